package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// WatermarkRepository implements repository.WatermarkRepository for SQLite.
type WatermarkRepository struct {
	db *sql.DB
}

// NewWatermarkRepository creates a new SQLite watermark repository.
func NewWatermarkRepository(db *sql.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Get returns the assignment for (userID, fileID).
func (r *WatermarkRepository) Get(ctx context.Context, userID int64, fileID string) (*models.WatermarkAssignment, error) {
	return getAssignment(ctx, r.db, userID, fileID)
}

// GetOrCreate inserts the assignment unless one exists, then returns the stored row.
// The unique (user_id, file_id) constraint decides the winner under concurrency.
func (r *WatermarkRepository) GetOrCreate(ctx context.Context, userID int64, fileID, code string) (*models.WatermarkAssignment, bool, error) {
	if fileID == "" || code == "" {
		return nil, false, repository.ErrInvalidInput
	}

	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO watermarks (user_id, file_id, code, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		userID, fileID, code, formatTime(now()))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert watermark: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	assignment, err := getAssignment(ctx, tx, userID, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		// Nothing inserted and nothing stored for this pair: the code belongs to someone else
		return nil, false, repository.ErrDuplicateKey
	}
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit watermark: %w", err)
	}
	return assignment, n == 1, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getAssignment(ctx context.Context, q queryRower, userID int64, fileID string) (*models.WatermarkAssignment, error) {
	var a models.WatermarkAssignment
	var createdAt string
	err := q.QueryRowContext(ctx,
		`SELECT user_id, file_id, code, created_at FROM watermarks WHERE user_id = ? AND file_id = ?`,
		userID, fileID).Scan(&a.UserID, &a.FileID, &a.Code, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
