package mock

import (
	"context"

	"github.com/fjmerc/streamforge/internal/repository"
)

// HealthRepository reports PingError, nil by default.
type HealthRepository struct {
	PingError error
}

// Ping returns PingError.
func (h *HealthRepository) Ping(ctx context.Context) error {
	return h.PingError
}

// Repositories bundles the mocks so tests can reach their helpers
// while handing the interface view to the code under test.
type Repositories struct {
	Files      *FileRepository
	Chunks     *ChunkRepository
	Watermarks *WatermarkRepository
	Health     *HealthRepository
}

// NewRepositories creates a fresh set of mocks.
func NewRepositories() *Repositories {
	return &Repositories{
		Files:      NewFileRepository(),
		Chunks:     NewChunkRepository(),
		Watermarks: NewWatermarkRepository(),
		Health:     &HealthRepository{},
	}
}

// Repositories returns the interface view.
func (m *Repositories) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Files:        m.Files,
		Chunks:       m.Chunks,
		Watermarks:   m.Watermarks,
		Health:       m.Health,
		DatabaseType: repository.DatabaseTypeMock,
	}
}
