package sqlite

import (
	"database/sql"

	"github.com/fjmerc/streamforge/internal/repository"
)

// NewRepositories creates all SQLite repository implementations.
// The db parameter must be a valid, open database connection with migrations applied.
//
// Returns the repositories struct with DatabaseType set to "sqlite" and
// a Cleanup function that closes the database connection.
func NewRepositories(db *sql.DB) (*repository.Repositories, error) {
	if db == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Files:        NewFileRepository(db),
		Chunks:       NewChunkRepository(db),
		Watermarks:   NewWatermarkRepository(db),
		Health:       NewHealthRepository(db),
		DB:           db,
		DatabaseType: repository.DatabaseTypeSQLite,
		Cleanup: func() {
			db.Close()
		},
	}, nil
}
