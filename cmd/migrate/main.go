package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"chatthread/internal/constants"
	"chatthread/internal/migrations"
	"chatthread/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", constants.DefaultDatabasePath, "Path to the database file")
	dir := flag.String("dir", migrations.MigrationsDir, "Directory holding the *.sql migrations")
	root := flag.String("root", ".", "Directory the migrations directory must live under")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	base, err := filepath.Abs(*root)
	if err != nil {
		logger.Fatalf("Invalid root directory: %v", err)
	}
	if err := migrate(*dbPath, *dir, base, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

// migrate applies the initial schema and every pending file in dir. Relative
// dirs are resolved against base and no dir may point outside it.
func migrate(dbPath, dir, base string, logger *logrus.Logger) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	if err := security.ValidateFilePathWithBase(dir, base); err != nil {
		return fmt.Errorf("invalid migrations directory: %w", err)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logger.WithField("path", dbPath).Info("Database file not found, creating it")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply initial schema: %w", err)
	}

	migrations.MigrationsDir = dir
	if err := migrations.RunMigrations(db); err != nil {
		return err
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":    dbPath,
		"dir":     dir,
		"applied": applied,
	}).Info("Database schema is up to date")
	return nil
}
