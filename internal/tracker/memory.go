package tracker

import (
	"context"
	"sync"
)

type memoryEntry struct {
	expected int
	received map[int]struct{}
}

// MemoryTracker keeps upload state in process memory.
type MemoryTracker struct {
	mu      sync.RWMutex
	uploads map[string]*memoryEntry
	paths   PathFunc
}

// Ensure MemoryTracker implements Tracker
var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker(paths PathFunc) *MemoryTracker {
	return &MemoryTracker{
		uploads: make(map[string]*memoryEntry),
		paths:   paths,
	}
}

func (m *MemoryTracker) RegisterUpload(ctx context.Context, uploadID string, expectedChunks int) error {
	if err := validateRegistration(uploadID, expectedChunks); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.uploads[uploadID]; ok {
		e.expected = expectedChunks
		return nil
	}
	m.uploads[uploadID] = &memoryEntry{
		expected: expectedChunks,
		received: make(map[int]struct{}),
	}
	return nil
}

func (m *MemoryTracker) RegisterChunk(ctx context.Context, uploadID string, index int) error {
	if err := validateIndex(index); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.uploads[uploadID]
	if !ok {
		return ErrUnknownUpload
	}
	e.received[index] = struct{}{}
	return nil
}

func (m *MemoryTracker) Snapshot(ctx context.Context, uploadID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.uploads[uploadID]
	if !ok {
		return nil, ErrUnknownUpload
	}
	return buildState(uploadID, e.expected, e.received), nil
}

func (m *MemoryTracker) ValidateAndGetChunkPaths(ctx context.Context, uploadID string) ([]string, error) {
	s, err := m.Snapshot(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return chunkPaths(s, m.paths)
}

func (m *MemoryTracker) Cleanup(ctx context.Context, uploadID string) error {
	m.mu.Lock()
	delete(m.uploads, uploadID)
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory tracker.
func (m *MemoryTracker) Close() error {
	return nil
}
