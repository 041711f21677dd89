package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/repository"
)

// NewRepositories creates a connection pool and all PostgreSQL repository implementations.
// Migrations run first when AutoMigrate is enabled.
func NewRepositories(ctx context.Context, pgCfg *config.PostgreSQLConfig) (*repository.Repositories, error) {
	if pgCfg == nil {
		return nil, fmt.Errorf("PostgreSQL configuration is nil")
	}

	pool, err := OpenPool(ctx, pgCfg)
	if err != nil {
		return nil, err
	}

	if pgCfg.AutoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
		}
	}

	repos, err := NewRepositoriesWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	repos.Cleanup = pool.Close
	return repos, nil
}

// OpenPool connects to the database described by pgCfg without running migrations.
func OpenPool(ctx context.Context, pgCfg *config.PostgreSQLConfig) (*Pool, error) {
	if pgCfg == nil {
		return nil, fmt.Errorf("PostgreSQL configuration is nil")
	}
	pool, err := NewPool(ctx, buildConnectionString(pgCfg), int32(pgCfg.MaxConnections))
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}
	return pool, nil
}

// NewRepositoriesWithPool creates all PostgreSQL repository implementations using an existing pool.
// The caller is responsible for closing the pool; Cleanup will be nil.
func NewRepositoriesWithPool(pool *Pool) (*repository.Repositories, error) {
	if pool == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Files:        NewFileRepository(pool),
		Chunks:       NewChunkRepository(pool),
		Watermarks:   NewWatermarkRepository(pool),
		Health:       NewHealthRepository(pool.Pool),
		DatabaseType: repository.DatabaseTypePostgreSQL,
	}, nil
}

// buildConnectionString constructs a PostgreSQL connection string from config.
// Credentials are URL-encoded to handle special characters safely.
func buildConnectionString(cfg *config.PostgreSQLConfig) string {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.PathEscape(cfg.User),
		url.PathEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return connStr + "?sslmode=" + url.QueryEscape(sslMode)
}
