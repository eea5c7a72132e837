// Package migrator applies versioned SQL migrations to the state store.
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
)

// lockID is the postgres advisory lock key held while migrating
const lockID = 424242017

// Run applies every pending migration found in dir of fsys. driver is
// "sqlite3" or "postgres".
func Run(ctx context.Context, db *sql.DB, driver string, fsys fs.FS, dir string, logger *slog.Logger) error {
	if err := createSchemaTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	release, err := acquireLock(ctx, db, driver)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer release()

	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedSet := make(map[int]bool)
	maxApplied := 0
	for _, v := range applied {
		appliedSet[v] = true
		maxApplied = max(maxApplied, v)
	}

	var pending []Migration
	for _, m := range migrations {
		if appliedSet[m.Version] {
			continue
		}
		if m.Version < maxApplied {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)", m.Version, maxApplied)
		}
		pending = append(pending, m)
	}

	for _, m := range pending {
		for _, dep := range m.Dependencies {
			if !appliedSet[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", m.Version, dep)
			}
		}

		if err := apply(ctx, db, driver, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		appliedSet[m.Version] = true

		logger.Info("applied migration", "version", m.Version, "name", m.Name)
	}

	if len(pending) == 0 {
		logger.Debug("schema is up to date", "version", maxApplied)
	}
	return nil
}

// CurrentVersion returns the highest applied version, or 0
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// AppliedVersions returns the applied versions in ascending order
func AppliedVersions(ctx context.Context, db *sql.DB) ([]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		if isMissingTable(err) {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	versions := []int{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func isMissingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist")
}

func createSchemaTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func apply(ctx context.Context, db *sql.DB, driver string, m Migration) error {
	record := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(driver, 1) + ")"

	run := func(ex execer) error {
		if _, err := ex.ExecContext(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
		if _, err := ex.ExecContext(ctx, record, m.Version); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	}

	if m.NoTransaction {
		return run(db)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := run(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func placeholder(driver string, n int) string {
	if driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// acquireLock takes the advisory lock on postgres. SQLite relies on its own
// file lock. The advisory lock is session scoped, so it is taken and released
// on one pinned connection.
func acquireLock(ctx context.Context, db *sql.DB, driver string) (func(), error) {
	if driver != "postgres" {
		return func() {}, nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return nil, err
	}
	return func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockID)
		conn.Close()
	}, nil
}
