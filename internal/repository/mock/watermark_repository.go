package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

type assignmentKey struct {
	userID int64
	fileID string
}

// WatermarkRepository is an in-memory implementation of repository.WatermarkRepository.
// Uniqueness on (user, file) and on code mirrors the SQL constraints.
type WatermarkRepository struct {
	mu      sync.Mutex
	byPair  map[assignmentKey]models.WatermarkAssignment
	byCode  map[string]assignmentKey
	inserts int64

	GetOrCreateError error

	// BeforeInsert runs after the initial lookup missed and before the insert,
	// outside the lock. Tests use it to force races.
	BeforeInsert func(userID int64, fileID string)
}

// NewWatermarkRepository creates an empty mock WatermarkRepository.
func NewWatermarkRepository() *WatermarkRepository {
	return &WatermarkRepository{
		byPair: make(map[assignmentKey]models.WatermarkAssignment),
		byCode: make(map[string]assignmentKey),
	}
}

var _ repository.WatermarkRepository = (*WatermarkRepository)(nil)

// Get returns the assignment for (userID, fileID).
func (r *WatermarkRepository) Get(ctx context.Context, userID int64, fileID string) (*models.WatermarkAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byPair[assignmentKey{userID, fileID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

// GetOrCreate inserts unless an assignment exists, then returns the stored one.
func (r *WatermarkRepository) GetOrCreate(ctx context.Context, userID int64, fileID, code string) (*models.WatermarkAssignment, bool, error) {
	if r.GetOrCreateError != nil {
		return nil, false, r.GetOrCreateError
	}
	if fileID == "" || code == "" {
		return nil, false, repository.ErrInvalidInput
	}

	key := assignmentKey{userID, fileID}
	if r.BeforeInsert != nil {
		if _, err := r.Get(ctx, userID, fileID); err != nil {
			r.BeforeInsert(userID, fileID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.byPair[key]; ok {
		return &a, false, nil
	}
	if _, taken := r.byCode[code]; taken {
		return nil, false, repository.ErrDuplicateKey
	}

	a := models.WatermarkAssignment{UserID: userID, FileID: fileID, Code: code, CreatedAt: time.Now()}
	r.byPair[key] = a
	r.byCode[code] = key
	atomic.AddInt64(&r.inserts, 1)
	return &a, true, nil
}

// Count returns the number of stored assignments.
func (r *WatermarkRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPair)
}

// Inserts returns how many GetOrCreate calls created a row.
func (r *WatermarkRepository) Inserts() int64 {
	return atomic.LoadInt64(&r.inserts)
}
