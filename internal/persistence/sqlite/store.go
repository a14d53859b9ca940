// Package sqlite implements the durable token store backend on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/hr-portal/internal/persistence"
	"github.com/example/hr-portal/internal/persistence/sqlite/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store keeps client state rows in the client_state table.
type Store struct {
	db     *sql.DB
	config Config
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBusyTimeout overrides how long a write waits on another connection's lock.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.config.BusyTimeout = timeout
	}
}

// WithJournalMode overrides the journal mode.
func WithJournalMode(mode string) Option {
	return func(s *Store) {
		s.config.JournalMode = mode
	}
}

// Open connects to the database identified by dsn using DefaultConfig
// adjusted by opts.
func Open(dsn string, opts ...Option) (*Store, error) {
	store := &Store{config: DefaultConfig(dsn), now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.config.validate(); err != nil {
		return nil, fmt.Errorf("sqlite: invalid configuration: %w", err)
	}

	db, err := sql.Open("sqlite", store.config.connectionString())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection serialises writers in this process and keeps
	// ":memory:" databases shared. Other processes are handled by the busy timeout.
	db.SetMaxOpenConns(1)
	store.db = db
	return store, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(s.db, migrationFiles, "migrations", s.logger)
	if _, err := manager.Run(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements persistence.KV.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	return value, true, nil
}

// GetMany implements persistence.KV. One SELECT reads every key from the
// same snapshot of the database.
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM client_state WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("sqlite: scan client state: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get many: %w", err)
	}
	return values, nil
}

// Put implements persistence.KV. All entries are written in one transaction.
func (s *Store) Put(ctx context.Context, entries map[string]string) error {
	updatedAt := s.now().UTC().Format(time.RFC3339Nano)
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		for key, value := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, updatedAt,
			); err != nil {
				return fmt.Errorf("sqlite: put %s: %w", key, err)
			}
		}
		return nil
	})
}

// Delete implements persistence.KV.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key); err != nil {
				return fmt.Errorf("sqlite: delete %s: %w", key, err)
			}
		}
		return nil
	})
}

// withTransaction runs fn in a transaction, rolling back on error or panic.
func (s *Store) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

var _ persistence.KV = (*Store)(nil)
