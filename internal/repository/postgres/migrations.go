package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         string
}

// migrations contains all PostgreSQL schema migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Name:        "001_initial",
		Description: "files, chunks and watermark assignments",
		SQL: `
CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    declared_hash TEXT NOT NULL DEFAULT '',
    declared_size BIGINT NOT NULL DEFAULT 0,
    content_hint TEXT NOT NULL DEFAULT '',
    content_type TEXT NOT NULL DEFAULT '',
    expected_chunks INTEGER NOT NULL DEFAULT 0,
    chunk_set_hash TEXT NOT NULL DEFAULT '',
    mode TEXT NOT NULL DEFAULT 'chunked',
    status TEXT NOT NULL DEFAULT 'initialized',
    valid BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_files_status_updated ON files(status, updated_at);

CREATE TABLE IF NOT EXISTS chunks (
    file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    hash TEXT NOT NULL,
    size BIGINT NOT NULL DEFAULT 0,
    path TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (file_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS watermarks (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    code TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, file_id),
    UNIQUE (code)
);

CREATE INDEX IF NOT EXISTS idx_watermarks_file ON watermarks(file_id);
`,
	},
}

// RunMigrations applies all pending PostgreSQL migrations.
func RunMigrations(ctx context.Context, pool *Pool) error {
	slog.Info("running PostgreSQL database migrations")

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	status, err := GetMigrationStatus(ctx, pool)
	if err != nil {
		return err
	}

	applied := 0
	for i, st := range status {
		if st.Applied {
			slog.Debug("migration already applied", "migration", st.Name)
			continue
		}
		if err := applyMigration(ctx, pool, migrations[i]); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		slog.Info("no pending PostgreSQL migrations")
	} else {
		slog.Info("PostgreSQL migrations complete", "applied", applied)
	}
	return nil
}

func applyMigration(ctx context.Context, pool *Pool, m Migration) error {
	slog.Info("applying migration", "migration", m.Name, "description", m.Description)

	tx, err := pool.BeginTx(ctx, TxOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO migrations (name) VALUES ($1)", m.Name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Name, err)
	}

	slog.Info("migration applied successfully", "migration", m.Name)
	return nil
}

// GetMigrationStatus returns the status of all migrations, in order.
func GetMigrationStatus(ctx context.Context, pool *Pool) ([]MigrationStatus, error) {
	appliedMap := make(map[string]bool)
	rows, err := pool.Query(ctx, "SELECT name FROM migrations ORDER BY id")
	if err == nil {
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan migration name: %w", err)
			}
			appliedMap[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating migrations: %w", err)
		}
	}
	// Table might not exist yet; everything is pending

	status := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		status = append(status, MigrationStatus{
			Version:     m.Version,
			Name:        m.Name,
			Description: m.Description,
			Applied:     appliedMap[m.Name],
		})
	}
	return status, nil
}

// MigrationStatus represents the status of a migration.
type MigrationStatus struct {
	Version     int
	Name        string
	Description string
	Applied     bool
}
