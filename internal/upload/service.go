// Package upload orchestrates ingestion: init, chunked or whole-file transfer,
// and completion into an HLS rendition. Lifecycle transitions are
// compare-and-swap updates on the file record, so concurrent requests for one
// upload cannot both win a transition.
package upload

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/storage"
	"github.com/fjmerc/streamforge/internal/tracker"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// upload's current lifecycle state.
	ErrInvalidState = errors.New("operation not allowed in current upload state")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid upload request")
)

// Media is the subset of the transcode pipeline the orchestrator drives.
// *transcode.Pipeline satisfies it.
type Media interface {
	Split(ctx context.Context, source, outDir string) ([]string, error)
	FormatHLS(ctx context.Context, chunkPaths []string, outDir string) (string, error)
}

// Config holds the limits and timings the orchestrator enforces.
type Config struct {
	MaxChunkSize int64
	MaxFileSize  int64

	// AbandonedAfter is how long an unfinished upload may sit idle before
	// the sweeper fails it and removes its chunks.
	AbandonedAfter time.Duration

	// CompletingGrace is how long a completion may run before recovery
	// treats it as interrupted.
	CompletingGrace time.Duration
}

const (
	defaultMaxChunkSize    = 64 << 20
	defaultMaxFileSize     = 20 << 30
	defaultAbandonedAfter  = 48 * time.Hour
	defaultCompletingGrace = 30 * time.Minute
)

// Service implements the upload lifecycle.
type Service struct {
	files     repository.FileRepository
	chunks    repository.ChunkRepository
	store     storage.ChunkStore
	tracker   tracker.Tracker
	media     Media
	publisher storage.Publisher
	cfg       Config

	// gates keep a completion from starting while chunks for the same
	// upload are being stored. Chunk holds a read lock, Complete the write
	// lock for its claim.
	gates [gateStripes]sync.RWMutex

	newID func() string
	now   func() time.Time
}

const gateStripes = 64

func (s *Service) gate(uploadID string) *sync.RWMutex {
	h := fnv.New32a()
	h.Write([]byte(uploadID))
	return &s.gates[h.Sum32()%gateStripes]
}

// accepting lists the states in which chunks may still arrive.
var accepting = []models.UploadStatus{models.StatusInitialized, models.StatusIngesting}

// NewService wires the orchestrator. Zero config values fall back to defaults.
func NewService(repos *repository.Repositories, store storage.ChunkStore, tr tracker.Tracker, media Media, cfg Config) *Service {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = defaultMaxChunkSize
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.AbandonedAfter <= 0 {
		cfg.AbandonedAfter = defaultAbandonedAfter
	}
	if cfg.CompletingGrace <= 0 {
		cfg.CompletingGrace = defaultCompletingGrace
	}

	return &Service{
		files:   repos.Files,
		chunks:  repos.Chunks,
		store:   store,
		tracker: tr,
		media:   media,
		cfg:     cfg,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// SetPublisher enables mirroring finished HLS output. Nil disables it.
func (s *Service) SetPublisher(p storage.Publisher) {
	s.publisher = p
}

// Init creates the file record and registers the upload with the tracker.
func (s *Service) Init(ctx context.Context, req models.UploadInitRequest) (*models.UploadInitResponse, error) {
	name := strings.TrimSpace(req.Filename)
	hash := strings.ToLower(strings.TrimSpace(req.FileHash))

	switch {
	case name == "":
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	case req.FileSize <= 0:
		return nil, fmt.Errorf("%w: fileSize must be positive", ErrInvalidInput)
	case req.FileSize > s.cfg.MaxFileSize:
		return nil, fmt.Errorf("%w: fileSize %d exceeds limit %d", ErrInvalidInput, req.FileSize, s.cfg.MaxFileSize)
	case req.TotalChunks < 1:
		return nil, fmt.Errorf("%w: totalChunks must be at least 1", ErrInvalidInput)
	case !isDigest(hash):
		return nil, fmt.Errorf("%w: fileHash must be a hex SHA-256 digest", ErrInvalidInput)
	}

	file := &models.FileRecord{
		ID:             s.newID(),
		Name:           name,
		DeclaredHash:   hash,
		DeclaredSize:   req.FileSize,
		ContentHint:    req.ContentHint,
		ExpectedChunks: req.TotalChunks,
		ChunkSetHash:   hash,
		Mode:           models.ModeChunked,
		Status:         models.StatusInitialized,
	}

	if err := s.files.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	if err := s.tracker.RegisterUpload(ctx, file.ID, file.ExpectedChunks); err != nil {
		s.markFailed(ctx, file.ID, file.Status)
		return nil, fmt.Errorf("failed to register upload: %w", err)
	}

	metrics.UploadsInitiatedTotal.Inc()
	slog.Info("upload initialized",
		"upload_id", file.ID,
		"filename", file.Name,
		"file_size", file.DeclaredSize,
		"total_chunks", file.ExpectedChunks,
	)

	return &models.UploadInitResponse{UploadID: file.ID}, nil
}

// Status reports the lifecycle state and, for unfinished uploads, which
// chunk indices have been received.
func (s *Service) Status(ctx context.Context, uploadID string) (*models.UploadStatusResponse, error) {
	file, err := s.getFile(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	resp := &models.UploadStatusResponse{
		UploadID:       file.ID,
		Filename:       file.Name,
		Status:         file.Status,
		Mode:           file.Mode,
		Valid:          file.Valid,
		ExpectedChunks: file.ExpectedChunks,
	}

	if file.Status == models.StatusFinalized || file.Status == models.StatusFailed {
		return resp, nil
	}

	state, err := s.snapshot(ctx, file)
	if err != nil {
		return nil, err
	}
	resp.Received = state.Received
	resp.Missing = state.Missing
	return resp, nil
}

func (s *Service) getFile(ctx context.Context, uploadID string) (*models.FileRecord, error) {
	if strings.TrimSpace(uploadID) == "" {
		return nil, fmt.Errorf("%w: uploadId is required", ErrInvalidInput)
	}
	file, err := s.files.GetByID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load upload %s: %w", uploadID, err)
	}
	return file, nil
}

func (s *Service) snapshot(ctx context.Context, file *models.FileRecord) (*tracker.State, error) {
	state, err := s.tracker.Snapshot(ctx, file.ID)
	if errors.Is(err, tracker.ErrUnknownUpload) {
		if err := s.restoreTracker(ctx, file); err != nil {
			return nil, err
		}
		state, err = s.tracker.Snapshot(ctx, file.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk state: %w", err)
	}
	return state, nil
}

// restoreTracker rebuilds transient chunk state from the persisted chunk
// records, e.g. after a restart with the in-memory tracker. Records whose
// file is gone are not registered. Finalized and failed uploads have no
// chunk state to restore.
func (s *Service) restoreTracker(ctx context.Context, file *models.FileRecord) error {
	current, err := s.getFile(ctx, file.ID)
	if err != nil {
		return err
	}
	switch current.Status {
	case models.StatusInitialized, models.StatusIngesting, models.StatusCompleting:
	default:
		return fmt.Errorf("%w: upload %s is %s", ErrInvalidState, file.ID, current.Status)
	}

	if err := s.tracker.RegisterUpload(ctx, file.ID, file.ExpectedChunks); err != nil {
		return fmt.Errorf("failed to re-register upload: %w", err)
	}

	records, err := s.chunks.ListByFile(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("failed to list chunk records: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if _, err := os.Stat(rec.Path); err != nil {
			slog.Warn("chunk record without file, skipping",
				"upload_id", file.ID,
				"chunk_index", rec.Index,
				"path", rec.Path,
			)
			continue
		}
		if err := s.tracker.RegisterChunk(ctx, file.ID, rec.Index); err != nil {
			return fmt.Errorf("failed to restore chunk %d: %w", rec.Index, err)
		}
		restored++
	}

	slog.Info("tracker state restored",
		"upload_id", file.ID,
		"expected_chunks", file.ExpectedChunks,
		"restored_chunks", restored,
	)
	return nil
}

// registerChunk records index with the tracker, restoring lost state once.
func (s *Service) registerChunk(ctx context.Context, file *models.FileRecord, index int) error {
	err := s.tracker.RegisterChunk(ctx, file.ID, index)
	if errors.Is(err, tracker.ErrUnknownUpload) {
		if err := s.restoreTracker(ctx, file); err != nil {
			return err
		}
		err = s.tracker.RegisterChunk(ctx, file.ID, index)
	}
	return err
}

// transition runs a status compare-and-swap and reports ErrInvalidState
// when the upload is not in one of from.
func (s *Service) transition(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) error {
	ok, err := s.files.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: upload %s cannot move to %s", ErrInvalidState, id, to)
	}
	return nil
}

// revert moves an upload back to prev after a failed attempt. It runs even
// when the request context is already cancelled.
func (s *Service) revert(ctx context.Context, id string, from, prev models.UploadStatus) {
	ctx = context.WithoutCancel(ctx)
	ok, err := s.files.TransitionStatus(ctx, id, []models.UploadStatus{from}, prev)
	if err != nil || !ok {
		slog.Warn("failed to revert upload status",
			"upload_id", id,
			"from", from,
			"to", prev,
			"error", err,
		)
	}
}

func (s *Service) markFailed(ctx context.Context, id string, from models.UploadStatus) {
	s.revert(ctx, id, from, models.StatusFailed)
}

func isDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
