// Package repository defines interfaces for metadata persistence.
// Implementations for SQLite, PostgreSQL and an in-memory mock live in
// sub-packages and are selected by DatabaseType at startup.
package repository

import (
	"errors"
	"time"

	"github.com/fjmerc/streamforge/internal/models"
)

// Common errors returned by repository operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilDatabase is returned when a nil database connection is provided.
	ErrNilDatabase = errors.New("nil database connection")
)

// StaleFilter selects files stuck in one of Statuses since before UpdatedBefore.
type StaleFilter struct {
	Statuses      []models.UploadStatus
	UpdatedBefore time.Time
	Limit         int // 0 means no limit
}

// StatusAllowed reports whether a transition guarded by from may leave status s.
// An empty from list matches nothing.
func StatusAllowed(from []models.UploadStatus, s models.UploadStatus) bool {
	for _, v := range from {
		if v == s {
			return true
		}
	}
	return false
}
