package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger"
)

const (
	keyPrefix = "upload:"

	// deleteBatchSize keeps cleanup transactions below badger's size limit.
	deleteBatchSize = 1000

	maxConflictRetries = 5
)

// BadgerTracker persists upload state in an embedded badger database, so chunk
// bookkeeping survives a restart. Each received index is its own key, which
// gives set semantics without read-modify-write.
type BadgerTracker struct {
	db    *badger.DB
	paths PathFunc
}

// Ensure BadgerTracker implements Tracker
var _ Tracker = (*BadgerTracker)(nil)

// NewBadgerTracker opens (creating if needed) a badger database in dir.
func NewBadgerTracker(dir string, paths PathFunc) (*BadgerTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tracker directory: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	slog.Info("badger upload tracker opened", "dir", dir)

	return &BadgerTracker{db: db, paths: paths}, nil
}

func uploadPrefix(uploadID string) []byte {
	return []byte(keyPrefix + uploadID + ":")
}

func totalKey(uploadID string) []byte {
	return []byte(keyPrefix + uploadID + ":total")
}

func chunkPrefix(uploadID string) []byte {
	return []byte(keyPrefix + uploadID + ":chunk:")
}

func chunkKey(uploadID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:chunk:%010d", keyPrefix, uploadID, index))
}

func validateKeyID(uploadID string) error {
	if strings.Contains(uploadID, ":") {
		return fmt.Errorf("invalid upload ID: %s", uploadID)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (b *BadgerTracker) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *BadgerTracker) RegisterUpload(ctx context.Context, uploadID string, expectedChunks int) error {
	if err := validateRegistration(uploadID, expectedChunks); err != nil {
		return err
	}
	if err := validateKeyID(uploadID); err != nil {
		return err
	}

	return b.update(func(txn *badger.Txn) error {
		return txn.Set(totalKey(uploadID), []byte(strconv.Itoa(expectedChunks)))
	})
}

func (b *BadgerTracker) RegisterChunk(ctx context.Context, uploadID string, index int) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	if err := validateKeyID(uploadID); err != nil {
		return err
	}

	return b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(totalKey(uploadID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrUnknownUpload
			}
			return err
		}
		return txn.Set(chunkKey(uploadID, index), nil)
	})
}

func (b *BadgerTracker) Snapshot(ctx context.Context, uploadID string) (*State, error) {
	if err := validateKeyID(uploadID); err != nil {
		return nil, err
	}

	var expected int
	received := make(map[int]struct{})

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(totalKey(uploadID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrUnknownUpload
			}
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		expected, err = strconv.Atoi(string(val))
		if err != nil {
			return fmt.Errorf("corrupt chunk total for %s: %w", uploadID, err)
		}

		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()

		prefix := chunkPrefix(uploadID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			suffix := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			idx, err := strconv.Atoi(suffix)
			if err != nil {
				continue
			}
			received[idx] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return buildState(uploadID, expected, received), nil
}

func (b *BadgerTracker) ValidateAndGetChunkPaths(ctx context.Context, uploadID string) ([]string, error) {
	s, err := b.Snapshot(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return chunkPaths(s, b.paths)
}

func (b *BadgerTracker) Cleanup(ctx context.Context, uploadID string) error {
	if err := validateKeyID(uploadID); err != nil {
		return err
	}

	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()

		prefix := uploadPrefix(uploadID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		if err := b.update(func(txn *badger.Txn) error {
			for _, k := range batch {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}

	slog.Debug("tracker state cleared", "upload_id", uploadID, "keys", len(keys))
	return nil
}

// RunGC reclaims value log space. Badger returns ErrNoRewrite when there is nothing to do.
func (b *BadgerTracker) RunGC() {
	for {
		if err := b.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

func (b *BadgerTracker) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	slog.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
