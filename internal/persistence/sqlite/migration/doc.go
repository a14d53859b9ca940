// Package migration applies versioned SQL files to a SQLite database.
//
// Migration files follow the naming convention {version}_{description}.sql
// (e.g. "001_create_client_state.sql") and are read from any fs.FS, normally
// an embed.FS compiled into the binary. Applied versions are tracked in the
// schema_migrations table and each migration runs in its own transaction
// together with its bookkeeping row.
package migration
