package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// HealthRepository implements health checks for SQLite databases.
type HealthRepository struct {
	db *sql.DB
}

// NewHealthRepository creates a new SQLite health repository.
func NewHealthRepository(db *sql.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Ping runs a trivial query; PingContext alone does not catch a locked database file.
func (r *HealthRepository) Ping(ctx context.Context) error {
	var result int
	if err := r.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result %d", result)
	}
	return nil
}
