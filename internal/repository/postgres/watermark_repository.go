package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// WatermarkRepository implements repository.WatermarkRepository for PostgreSQL.
type WatermarkRepository struct {
	pool *Pool
}

// NewWatermarkRepository creates a new PostgreSQL watermark repository.
func NewWatermarkRepository(pool *Pool) *WatermarkRepository {
	return &WatermarkRepository{pool: pool}
}

// Get returns the assignment for (userID, fileID).
func (r *WatermarkRepository) Get(ctx context.Context, userID int64, fileID string) (*models.WatermarkAssignment, error) {
	var a models.WatermarkAssignment
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, file_id, code, created_at FROM watermarks WHERE user_id = $1 AND file_id = $2`,
		userID, fileID).Scan(&a.UserID, &a.FileID, &a.Code, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return &a, nil
}

// GetOrCreate inserts with ON CONFLICT DO NOTHING and reads back the stored row.
// Under READ COMMITTED a losing insert blocks until the winner commits, so the
// follow-up SELECT always sees the winning code.
func (r *WatermarkRepository) GetOrCreate(ctx context.Context, userID int64, fileID, code string) (*models.WatermarkAssignment, bool, error) {
	if fileID == "" || code == "" {
		return nil, false, repository.ErrInvalidInput
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO watermarks (user_id, file_id, code)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		userID, fileID, code)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert watermark: %w", err)
	}

	a, err := r.Get(ctx, userID, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, repository.ErrDuplicateKey
	}
	if err != nil {
		return nil, false, err
	}
	return a, tag.RowsAffected() == 1, nil
}
