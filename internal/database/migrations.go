package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration describes one embedded schema migration
type Migration struct {
	Name    string
	Applied bool
}

const migrationsTableSchema = `
CREATE TABLE IF NOT EXISTS migrations (
    id INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// RunMigrations applies all pending database migrations in name order
func RunMigrations(ctx context.Context, db *sql.DB) error {
	slog.Info("running database migrations")

	if _, err := db.ExecContext(ctx, migrationsTableSchema); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	status, err := ListMigrations(ctx, db)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range status {
		if m.Applied {
			slog.Debug("migration already applied", "migration", m.Name)
			continue
		}
		if err := applyMigration(ctx, db, m.Name); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		slog.Info("no pending migrations")
	} else {
		slog.Info("migrations complete", "applied", applied)
	}
	return nil
}

// ListMigrations reports every embedded migration and whether it has been applied
func ListMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	names, err := migrationNames()
	if err != nil {
		return nil, err
	}

	appliedMap := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT name FROM migrations")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("failed to scan migration name: %w", err)
			}
			appliedMap[name] = true
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating migrations: %w", err)
		}
	}
	// A missing migrations table means nothing has been applied yet

	result := make([]Migration, 0, len(names))
	for _, name := range names {
		result = append(result, Migration{Name: name, Applied: appliedMap[name]})
	}
	return result, nil
}

func migrationNames() ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func applyMigration(ctx context.Context, db *sql.DB, name string) error {
	slog.Info("applying migration", "migration", name)

	sqlBytes, err := migrationFiles.ReadFile(path.Join("migrations", name))
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}

	slog.Info("migration applied successfully", "migration", name)
	return nil
}
