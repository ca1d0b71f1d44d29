package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chatthread/internal/security"
)

const (
	initialSchemaFile = "001_initial_schema.sql"
	migrationsDirEnv  = "CHATTHREAD_MIGRATIONS_DIR"
	defaultDir        = "scripts/migrations"
	containerDir      = "/app/scripts/migrations"
)

//go:embed schema/*.sql
var embeddedSchema embed.FS

// MigrationsDir can be overridden in tests or by the application
var MigrationsDir = getDefaultMigrationsDir()

func getDefaultMigrationsDir() string {
	if dir := os.Getenv(migrationsDirEnv); dir != "" {
		return dir
	}
	return defaultDir
}

// GetInitialSchema returns the initial schema, preferring a copy on disk and
// falling back to the one compiled into the binary.
func GetInitialSchema() (string, error) {
	path := filepath.Join(MigrationsDir, initialSchemaFile)
	if security.ValidateFilePath(path) == nil {
		content, err := os.ReadFile(path) // #nosec G304 - validated above
		if err == nil {
			return string(content), nil
		}
	}

	content, err := embeddedSchema.ReadFile("schema/" + initialSchemaFile)
	if err != nil {
		return "", fmt.Errorf("could not find schema file in any location: %w", err)
	}
	return string(content), nil
}

// RunMigrations applies every *.sql file in MigrationsDir that has not been
// recorded in schema_migrations, in file name order.
func RunMigrations(db *sql.DB) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := findMigrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		if err := applyMigration(db, file); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func findMigrationFiles() ([]string, error) {
	var dir string
	for _, candidate := range []string{MigrationsDir, containerDir} {
		if security.ValidateFilePath(candidate) != nil {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			dir = candidate
			break
		}
	}
	if dir == "" {
		return nil, fmt.Errorf("migrations directory not found: %s", MigrationsDir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func applyMigration(db *sql.DB, file string) error {
	version := filepath.Base(file)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if count > 0 {
		return nil
	}

	if err := security.ValidateFilePath(file); err != nil {
		return err
	}
	content, err := os.ReadFile(file) // #nosec G304 - validated above
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
