package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL,
	execution_time_ms INTEGER NOT NULL
)`

// Executor runs migrations against a SQLite handle.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor returns an executor bound to db.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates schema_migrations if needed.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, createVersionTable); err != nil {
		return newMigrationError(0, "", "create schema_migrations", err)
	}
	return nil
}

// Execute applies one migration and records it in the same transaction.
func (e *Executor) Execute(ctx context.Context, migration Migration) (err error) {
	started := e.now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range splitStatements(migration.SQL) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			err = newMigrationError(migration.Version, migration.FilePath, fmt.Sprintf("execute statement %d", i+1), execErr)
			return err
		}
	}

	elapsed := e.now().Sub(started)
	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, checksum, applied_at, execution_time_ms) VALUES (?, ?, ?, ?, ?)`,
		migration.Version, migration.Description, migration.Checksum, e.now().UTC().Format(time.RFC3339Nano), elapsed.Milliseconds(),
	); execErr != nil {
		err = newMigrationError(migration.Version, migration.FilePath, "record migration", execErr)
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = newMigrationError(migration.Version, migration.FilePath, "commit transaction", commitErr)
		return err
	}
	return nil
}

// Applied returns recorded migrations ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT version, checksum, applied_at, execution_time_ms FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, newMigrationError(0, "", "list applied migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			record    AppliedMigration
			appliedAt string
			elapsedMS int64
		)
		if err := rows.Scan(&record.Version, &record.Checksum, &appliedAt, &elapsedMS); err != nil {
			return nil, newMigrationError(0, "", "scan applied migration", err)
		}
		record.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		record.ExecutionTime = time.Duration(elapsedMS) * time.Millisecond
		applied = append(applied, record)
	}
	if err := rows.Err(); err != nil {
		return nil, newMigrationError(0, "", "iterate applied migrations", err)
	}
	return applied, nil
}
