// Package utils provides process-level helpers shared by the HTTP layer and main.
package utils

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// OperationTracker tracks in-flight upload and render operations so the
// server can drain them on shutdown.
type OperationTracker struct {
	mu           sync.RWMutex
	active       map[uint64]*activeOperation
	nextID       uint64
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
}

// activeOperation is a snapshot of one in-flight operation.
type activeOperation struct {
	Kind      string
	UploadID  string
	StartTime time.Time
}

// NewOperationTracker creates an empty OperationTracker.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{
		active:     make(map[uint64]*activeOperation),
		shutdownCh: make(chan struct{}),
	}
}

// Start registers an operation. It returns false once shutdown has begun;
// otherwise the returned finish func must be called exactly once.
func (t *OperationTracker) Start(kind, uploadID string) (finish func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Checked under the lock so Wait cannot miss a late Add.
	if t.shuttingDown.Load() {
		return nil, false
	}

	t.nextID++
	id := t.nextID
	t.active[id] = &activeOperation{Kind: kind, UploadID: uploadID, StartTime: time.Now()}
	t.wg.Add(1)

	slog.Debug("operation started",
		"kind", kind,
		"upload_id", uploadID,
		"active_operations", len(t.active),
	)

	var once sync.Once
	return func() {
		once.Do(func() { t.finish(id) })
	}, true
}

func (t *OperationTracker) finish(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, exists := t.active[id]
	if !exists {
		return
	}
	delete(t.active, id)
	t.wg.Done()

	slog.Debug("operation finished",
		"kind", op.Kind,
		"upload_id", op.UploadID,
		"duration", time.Since(op.StartTime),
		"active_operations", len(t.active),
	)
}

// ActiveCount returns the number of in-flight operations.
func (t *OperationTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Active returns a snapshot of the in-flight operations.
func (t *OperationTracker) Active() []activeOperation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make([]activeOperation, 0, len(t.active))
	for _, op := range t.active {
		ops = append(ops, *op)
	}
	return ops
}

// IsShuttingDown reports whether BeginShutdown has been called.
func (t *OperationTracker) IsShuttingDown() bool {
	return t.shuttingDown.Load()
}

// ShutdownCh is closed when shutdown begins.
func (t *OperationTracker) ShutdownCh() <-chan struct{} {
	return t.shutdownCh
}

// BeginShutdown stops accepting new operations.
func (t *OperationTracker) BeginShutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shuttingDown.CompareAndSwap(false, true) {
		close(t.shutdownCh)
		slog.Info("operation tracker: shutdown initiated, rejecting new operations",
			"active_operations", len(t.active),
		)
	}
}

// Wait begins shutdown and blocks until every operation has finished or ctx
// is done. It returns true if all operations finished.
func (t *OperationTracker) Wait(ctx context.Context) bool {
	t.BeginShutdown()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("operation tracker: all operations completed gracefully")
		return true
	case <-ctx.Done():
		active := t.Active()
		slog.Warn("operation tracker: gave up waiting for operations",
			"remaining_operations", len(active),
		)
		for _, op := range active {
			slog.Warn("operation tracker: abandoned operation",
				"kind", op.Kind,
				"upload_id", op.UploadID,
				"duration", time.Since(op.StartTime),
			)
		}
		return false
	}
}
