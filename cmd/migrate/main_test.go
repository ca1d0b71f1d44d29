package main

import (
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestMigrate_CreatesSchemaAndAppliesFiles(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "scripts", "migrations")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_room_index.sql"),
		[]byte("CREATE INDEX IF NOT EXISTS idx_test_room ON room_messages(path);"), 0600))

	dbPath := filepath.Join(t.TempDir(), "chat.db")
	require.NoError(t, migrate(dbPath, "scripts/migrations", base, quietLogger()))
	// Applying twice is a no-op, and an absolute dir under base is accepted
	require.NoError(t, migrate(dbPath, dir, base, quietLogger()))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var tables int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('room_messages', 'thread_cursors')").Scan(&tables))
	assert.Equal(t, 2, tables)

	var indexes int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_test_room'").Scan(&indexes))
	assert.Equal(t, 1, indexes)
}

func TestMigrate_RejectsTraversal(t *testing.T) {
	base := t.TempDir()
	err := migrate("../../etc/chat.db", base, base, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database path")
}

func TestMigrate_RejectsDirOutsideRoot(t *testing.T) {
	base := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	for _, dir := range []string{"../elsewhere", t.TempDir()} {
		err := migrate(dbPath, dir, base, quietLogger())
		require.Error(t, err, dir)
		assert.Contains(t, err.Error(), "invalid migrations directory")
	}

	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "database must not be created")
}
