package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Bind rewrites "?" placeholders for the target driver.
type Bind func(query string) string

// Executor runs migrations and maintains the schema_migrations table.
type Executor struct {
	db   *sql.DB
	bind Bind
}

// NewExecutor returns an executor for db. A nil bind leaves queries unchanged.
func NewExecutor(db *sql.DB, bind Bind) *Executor {
	if bind == nil {
		bind = func(query string) string { return query }
	}
	return &Executor{db: db, bind: bind}
}

// InitializeVersionTable creates the schema_migrations table if it does not exist.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// Apply executes the migration's statements and records it, all in one transaction.
func (e *Executor) Apply(ctx context.Context, migration Migration) (err error) {
	started := time.Now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range SplitStatements(migration.SQL) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return NewMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
		}
	}

	insertSQL := e.bind(`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`)
	if _, execErr := tx.ExecContext(ctx, insertSQL,
		migration.Version,
		time.Now().UTC().Format(time.RFC3339),
		migration.Checksum,
		time.Since(started).Milliseconds(),
	); execErr != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "record migration", execErr)
	}

	if err = tx.Commit(); err != nil {
		return NewMigrationError(migration.Version, migration.FilePath, "commit transaction", err)
	}
	return nil
}

// Applied returns every recorded migration ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT version, applied_at, execution_time_ms, checksum
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			row       AppliedMigration
			appliedAt string
			elapsedMS int64
		)
		if err := rows.Scan(&row.Version, &appliedAt, &elapsedMS, &row.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		row.AppliedAt, err = time.Parse(time.RFC3339, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at for %s: %w", row.Version, err)
		}
		row.ExecutionTime = time.Duration(elapsedMS) * time.Millisecond
		applied = append(applied, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}
