package repository

import "database/sql"

// DatabaseType identifies which backend a Repositories value was built on.
type DatabaseType string

const (
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeMock       DatabaseType = "mock"
)

// Repositories holds all repository implementations.
// This struct provides a single point of access to all data access layers.
type Repositories struct {
	Files      FileRepository
	Chunks     ChunkRepository
	Watermarks WatermarkRepository
	Health     HealthRepository

	// DB is the SQLite handle; nil for other backends.
	DB *sql.DB

	DatabaseType DatabaseType

	// Cleanup releases the underlying connection(s). May be nil.
	Cleanup func()
}

// Close runs Cleanup if one is set.
func (r *Repositories) Close() {
	if r != nil && r.Cleanup != nil {
		r.Cleanup()
	}
}
