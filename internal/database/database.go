package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"chatthread/internal/constants"
	"chatthread/internal/metrics"
	"chatthread/internal/migrations"
	"chatthread/internal/models"
	"chatthread/internal/security"
	"chatthread/pkg/backend"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const pollBatchSize = 500

// Database is a SQLite-backed realtime store. Live subscriptions poll for
// rows inserted since their last look.
type Database struct {
	*backend.KeySource

	db           *sql.DB
	encryptor    *encryptor
	logger       *logrus.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	subs   map[*pollSubscription]struct{}
	closed bool
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	fail := func(msg string, err error) (*Database, error) {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%s: %w (close error: %v)", msg, err, closeErr)
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	if err := db.Ping(); err != nil {
		return fail("failed to ping database", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return fail("failed to read schema", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fail("failed to initialize schema", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		return fail("failed to initialize encryptor", err)
	}

	return &Database{
		KeySource:    backend.NewKeySource(),
		db:           db,
		encryptor:    enc,
		logger:       logrus.StandardLogger(),
		pollInterval: time.Duration(constants.DefaultBackendPollInterval) * time.Millisecond,
		subs:         make(map[*pollSubscription]struct{}),
	}, nil
}

// SetPollInterval changes how often new subscriptions look for added rows
func (d *Database) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.pollInterval = interval
	}
}

// SetLogger sets the logger used by background subscriptions
func (d *Database) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Close stops every subscription and closes the database. It is safe to call
// more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	subs := make([]*pollSubscription, 0, len(d.subs))
	for sub := range d.subs {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
		<-sub.done
	}
	return d.db.Close()
}

func (d *Database) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ReadRange returns the last q.Limit records of q.Path before q.EndBefore,
// ascending by key.
func (d *Database) ReadRange(ctx context.Context, q backend.RangeQuery) ([]backend.Child, error) {
	if d.isClosed() {
		return nil, backend.ErrClosed
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	var rows *sql.Rows
	var err error
	if q.EndBefore == "" {
		rows, err = d.db.QueryContext(ctx, SelectLatestRoomMessagesQuery, q.Path, limit)
	} else {
		rows, err = d.db.QueryContext(ctx, SelectRoomMessagesBeforeQuery, q.Path, q.EndBefore, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read range under %s: %w", q.Path, err)
	}
	defer func() { _ = rows.Close() }()

	var children []backend.Child
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		value, err := d.encryptor.Open(payload)
		if err != nil {
			// The key stays in the page so cursors still move past it; the
			// empty value is skipped by readers as undecodable.
			d.unreadable(key, err)
			children = append(children, backend.Child{Key: key})
			continue
		}
		children = append(children, backend.Child{Key: key, Value: json.RawMessage(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	for i, j := 0, len(children)-1; i < j; i, j = i+1, j-1 {
		children[i], children[j] = children[j], children[i]
	}
	return children, nil
}

// Write upserts one record
func (d *Database) Write(ctx context.Context, path, key string, value json.RawMessage) error {
	if d.isClosed() {
		return backend.ErrClosed
	}

	payload, err := d.encryptor.Seal(string(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertRoomMessageQuery, path, key, payload)
		return err
	}, "write record")
}

// Count returns the number of records under path
func (d *Database) Count(ctx context.Context, path string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountRoomMessagesQuery, path).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// SubscribeChildAdded polls path for records with keys after startAfter.
// Records already present are delivered on the first poll. Each record is
// delivered once, in insertion order.
func (d *Database) SubscribeChildAdded(ctx context.Context, path, startAfter string, fn func(backend.Child)) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, backend.ErrClosed
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	sub := &pollSubscription{
		db:         d,
		path:       path,
		startAfter: startAfter,
		fn:         fn,
		interval:   d.pollInterval,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	d.subs[sub] = struct{}{}

	go sub.run(pollCtx)
	return sub, nil
}

func (d *Database) detach(sub *pollSubscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, sub)
}

type pollSubscription struct {
	db         *Database
	path       string
	startAfter string
	fn         func(backend.Child)
	interval   time.Duration
	lastID     int64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *pollSubscription) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *pollSubscription) poll(ctx context.Context) {
	for {
		n, err := s.pollBatch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.db.logger.WithError(err).WithField("path", s.path).Warn("Subscription poll failed")
			}
			return
		}
		if n < pollBatchSize {
			return
		}
	}
}

func (s *pollSubscription) pollBatch(ctx context.Context) (int, error) {
	rows, err := s.db.db.QueryContext(ctx, SelectRoomMessagesAddedAfterQuery, s.path, s.startAfter, s.lastID, pollBatchSize)
	if err != nil {
		return 0, err
	}

	type row struct {
		id      int64
		key     string
		payload string
	}
	var batch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.key, &r.payload); err != nil {
			_ = rows.Close()
			return 0, err
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, r := range batch {
		if ctx.Err() != nil {
			return len(batch), nil
		}
		s.lastID = r.id

		value, err := s.db.encryptor.Open(r.payload)
		if err != nil {
			s.db.unreadable(r.key, err)
			continue
		}
		s.fn(backend.Child{Key: r.key, Value: json.RawMessage(value)})
	}
	return len(batch), nil
}

func (d *Database) unreadable(key string, err error) {
	d.logger.WithError(err).WithField("key", key).Warn("Skipping record that could not be decrypted")
	metrics.IncrementCounter(metrics.RecordsUnreadable, nil, "Stored records that could not be decrypted")
}

// Unsubscribe stops polling. A delivery already in progress may finish.
func (s *pollSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.db.detach(s)
	})
}

// CursorStore

// SaveCursor persists the pagination cursor for a thread session
func (d *Database) SaveCursor(ctx context.Context, sessionKey, roomID string, cursor models.Cursor) error {
	if d.isClosed() {
		return backend.ErrClosed
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertThreadCursorQuery, sessionKey, roomID, cursor.HasNextPage, cursor.EndKey)
		return err
	}, "save cursor")
}

// LoadCursor returns the saved cursor for a session. ok is false when none
// was saved.
func (d *Database) LoadCursor(ctx context.Context, sessionKey string) (cursor models.Cursor, ok bool, err error) {
	if d.isClosed() {
		return models.Cursor{}, false, backend.ErrClosed
	}

	err = d.db.QueryRowContext(ctx, SelectThreadCursorQuery, sessionKey).Scan(&cursor.HasNextPage, &cursor.EndKey)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cursor{}, false, nil
	}
	if err != nil {
		return models.Cursor{}, false, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, true, nil
}

// DeleteCursor forgets the saved cursor for a session
func (d *Database) DeleteCursor(ctx context.Context, sessionKey string) error {
	if d.isClosed() {
		return backend.ErrClosed
	}
	_, err := d.db.ExecContext(ctx, DeleteThreadCursorQuery, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}
