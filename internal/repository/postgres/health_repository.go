package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthRepository implements health checks for PostgreSQL databases.
type HealthRepository struct {
	pool *pgxpool.Pool
}

// NewHealthRepository creates a new PostgreSQL health repository.
func NewHealthRepository(pool *pgxpool.Pool) *HealthRepository {
	return &HealthRepository{pool: pool}
}

// Ping acquires a pooled connection and pings the server.
func (r *HealthRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
