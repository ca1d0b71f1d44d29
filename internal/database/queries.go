package database

// Room message queries
const (
	UpsertRoomMessageQuery = `
		INSERT INTO room_messages (path, record_key, payload)
		VALUES (?, ?, ?)
		ON CONFLICT (path, record_key) DO UPDATE SET payload = excluded.payload
	`

	SelectLatestRoomMessagesQuery = `
		SELECT record_key, payload
		FROM room_messages
		WHERE path = ?
		ORDER BY record_key DESC
		LIMIT ?
	`

	SelectRoomMessagesBeforeQuery = `
		SELECT record_key, payload
		FROM room_messages
		WHERE path = ? AND record_key < ?
		ORDER BY record_key DESC
		LIMIT ?
	`

	SelectRoomMessagesAddedAfterQuery = `
		SELECT id, record_key, payload
		FROM room_messages
		WHERE path = ? AND record_key > ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`

	CountRoomMessagesQuery = `
		SELECT COUNT(*) FROM room_messages WHERE path = ?
	`
)

// Thread cursor queries
const (
	UpsertThreadCursorQuery = `
		INSERT INTO thread_cursors (session_key, room_id, has_next_page, end_key, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (session_key) DO UPDATE SET
			room_id = excluded.room_id,
			has_next_page = excluded.has_next_page,
			end_key = excluded.end_key,
			updated_at = CURRENT_TIMESTAMP
	`

	SelectThreadCursorQuery = `
		SELECT has_next_page, end_key
		FROM thread_cursors
		WHERE session_key = ?
	`

	DeleteThreadCursorQuery = `
		DELETE FROM thread_cursors WHERE session_key = ?
	`
)
