// Package tracker records, per upload, how many chunks are expected and which
// indices have been received, and turns a complete set into ordered chunk paths.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrIncomplete is matched by every *IncompleteError.
	ErrIncomplete = errors.New("upload incomplete")

	// ErrUnknownUpload is returned when an upload was never registered or was cleaned up.
	ErrUnknownUpload = errors.New("upload not registered")

	// ErrInvalidIndex is returned for chunk indices below 1.
	ErrInvalidIndex = errors.New("invalid chunk index")
)

// PathFunc reconstructs the storage path of a chunk.
type PathFunc func(uploadID string, index int) string

// Tracker holds transient per-upload chunk state.
// Implementations must be safe for concurrent use.
type Tracker interface {
	// RegisterUpload sets the expected chunk count, replacing any previous value.
	RegisterUpload(ctx context.Context, uploadID string, expectedChunks int) error

	// RegisterChunk adds index to the received set. Repeated calls are no-ops.
	RegisterChunk(ctx context.Context, uploadID string, index int) error

	// ValidateAndGetChunkPaths returns the paths of chunks 1..N in order once the
	// received set is exactly {1..N}. Otherwise it returns an *IncompleteError.
	ValidateAndGetChunkPaths(ctx context.Context, uploadID string) ([]string, error)

	// Snapshot returns the current state of an upload.
	Snapshot(ctx context.Context, uploadID string) (*State, error)

	// Cleanup removes all state for uploadID. Absent state is not an error.
	Cleanup(ctx context.Context, uploadID string) error

	// Close releases backend resources.
	Close() error
}

// State is a point-in-time view of an upload's chunk bookkeeping.
type State struct {
	UploadID       string `json:"upload_id"`
	ExpectedChunks int    `json:"expected_chunks"`
	Received       []int  `json:"received"`
	Missing        []int  `json:"missing"`
	Unexpected     []int  `json:"unexpected,omitempty"`
}

// Complete reports whether the received set is exactly {1..ExpectedChunks}.
func (s *State) Complete() bool {
	return s.ExpectedChunks > 0 && len(s.Missing) == 0 && len(s.Unexpected) == 0
}

// IncompleteError reports a received set that differs from {1..N}.
type IncompleteError struct {
	UploadID   string
	Expected   int
	Received   int
	Missing    []int
	Unexpected []int
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("upload %s incomplete: expected %d chunks, received %d", e.UploadID, e.Expected, e.Received)
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(", missing %v", e.Missing)
	}
	if len(e.Unexpected) > 0 {
		msg += fmt.Sprintf(", unexpected %v", e.Unexpected)
	}
	return msg
}

// Is lets errors.Is(err, ErrIncomplete) match any IncompleteError.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

// buildState compares the received set against {1..expected}.
func buildState(uploadID string, expected int, received map[int]struct{}) *State {
	s := &State{
		UploadID:       uploadID,
		ExpectedChunks: expected,
		Received:       make([]int, 0, len(received)),
		Missing:        []int{},
	}

	for idx := range received {
		s.Received = append(s.Received, idx)
		if idx < 1 || idx > expected {
			s.Unexpected = append(s.Unexpected, idx)
		}
	}
	sort.Ints(s.Received)
	sort.Ints(s.Unexpected)

	for i := 1; i <= expected; i++ {
		if _, ok := received[i]; !ok {
			s.Missing = append(s.Missing, i)
		}
	}
	return s
}

// chunkPaths validates a state and reconstructs its ordered path list.
func chunkPaths(s *State, paths PathFunc) ([]string, error) {
	if !s.Complete() {
		return nil, &IncompleteError{
			UploadID:   s.UploadID,
			Expected:   s.ExpectedChunks,
			Received:   len(s.Received),
			Missing:    s.Missing,
			Unexpected: s.Unexpected,
		}
	}

	out := make([]string, s.ExpectedChunks)
	for i := 1; i <= s.ExpectedChunks; i++ {
		out[i-1] = paths(s.UploadID, i)
	}
	return out, nil
}

func validateRegistration(uploadID string, expectedChunks int) error {
	if uploadID == "" {
		return fmt.Errorf("upload ID cannot be empty")
	}
	if expectedChunks < 1 {
		return fmt.Errorf("expected chunk count must be positive, got %d", expectedChunks)
	}
	return nil
}

func validateIndex(index int) error {
	if index < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return nil
}
