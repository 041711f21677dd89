// Package playback serves finalized uploads: the HLS playlist, per-viewer
// watermarked segments and a watermarked full-length export.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/storage"
	"github.com/fjmerc/streamforge/internal/transcode"
	"github.com/fjmerc/streamforge/internal/watermark"
)

var (
	// ErrNotReady is returned for uploads that have not been finalized.
	ErrNotReady = errors.New("upload is not ready for playback")

	// ErrInvalidSegment is returned for segment names that are not plain .ts file names.
	ErrInvalidSegment = errors.New("invalid segment name")
)

// Renderer assigns watermark codes and renders watermarked artifacts.
// *watermark.Engine satisfies it.
type Renderer interface {
	GetOrCreateCode(ctx context.Context, userID int64, fileID string) (string, error)
	RenderSegment(ctx context.Context, original, output, code string) error
	RenderExport(ctx context.Context, playlist, output, code string) error
}

var _ Renderer = (*watermark.Engine)(nil)

// Asset is an opened file ready to be streamed. The caller closes Body.
type Asset struct {
	Body        io.ReadCloser
	Name        string
	Watermarked bool
}

// Service implements the playback and export reads.
type Service struct {
	files    repository.FileRepository
	store    storage.ChunkStore
	renderer Renderer
}

// NewService creates a playback Service.
func NewService(files repository.FileRepository, store storage.ChunkStore, renderer Renderer) *Service {
	return &Service{files: files, store: store, renderer: renderer}
}

// Playlist opens the HLS manifest of a finalized upload.
func (s *Service) Playlist(ctx context.Context, uploadID string) (*Asset, error) {
	if _, err := s.readyFile(ctx, uploadID); err != nil {
		return nil, err
	}

	body, err := s.store.Load(ctx, filepath.Join(s.store.UploadDir(uploadID), transcode.PlaylistName))
	if err != nil {
		return nil, err
	}
	return &Asset{Body: body, Name: transcode.PlaylistName}, nil
}

// Segment opens segment watermarked for userID, rendering it on first use.
// If rendering fails on I/O the unwatermarked original is served instead;
// an external tool failure is returned.
func (s *Service) Segment(ctx context.Context, userID int64, uploadID, segment string) (*Asset, error) {
	if err := validateSegmentName(segment); err != nil {
		return nil, err
	}
	if _, err := s.readyFile(ctx, uploadID); err != nil {
		return nil, err
	}

	dir := s.store.UploadDir(uploadID)
	original := filepath.Join(dir, segment)
	if _, err := os.Stat(original); err != nil {
		return nil, storage.NewStorageError("Segment", original, err)
	}

	code, err := s.renderer.GetOrCreateCode(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	output := watermark.SegmentPath(dir, code, segment)
	err = s.renderer.RenderSegment(ctx, original, output, code)
	if err == nil {
		body, loadErr := s.store.Load(ctx, output)
		if loadErr == nil {
			return &Asset{Body: body, Name: segment, Watermarked: true}, nil
		}
		err = loadErr
	}

	if !fallbackAllowed(ctx, err) {
		return nil, err
	}

	metrics.PlaybackFallbacksTotal.Inc()
	slog.Warn("serving unwatermarked segment after render failure",
		"upload_id", uploadID,
		"segment", segment,
		"user_id", userID,
		"error", err,
	)

	body, err := s.store.Load(ctx, original)
	if err != nil {
		return nil, err
	}
	return &Asset{Body: body, Name: segment}, nil
}

// Export opens the full-length rendition watermarked for userID, rendering
// it on first use. Export never falls back to an unwatermarked file.
func (s *Service) Export(ctx context.Context, userID int64, uploadID string) (*Asset, error) {
	file, err := s.readyFile(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	code, err := s.renderer.GetOrCreateCode(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	dir := s.store.UploadDir(uploadID)
	output := watermark.ExportPath(dir, code)
	if err := s.renderer.RenderExport(ctx, filepath.Join(dir, transcode.PlaylistName), output, code); err != nil {
		return nil, err
	}

	body, err := s.store.Load(ctx, output)
	if err != nil {
		return nil, err
	}
	return &Asset{Body: body, Name: ExportFilename(file.Name), Watermarked: true}, nil
}

func (s *Service) readyFile(ctx context.Context, uploadID string) (*models.FileRecord, error) {
	file, err := s.files.GetByID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load upload %s: %w", uploadID, err)
	}
	if file.Status != models.StatusFinalized || !file.Valid {
		return nil, fmt.Errorf("%w: upload %s is %s", ErrNotReady, uploadID, file.Status)
	}
	return file, nil
}

// fallbackAllowed reports whether err is a storage failure that may be
// answered with the original segment.
func fallbackAllowed(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, transcode.ErrExternalTool) {
		return false
	}
	return storage.IsStorageError(err)
}

func validateSegmentName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) || !strings.HasSuffix(name, ".ts") {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, name)
	}
	return nil
}

// ExportFilename derives the download name of an export from the upload's filename.
func ExportFilename(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/' || r < 0x20:
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." {
		base = "export"
	}
	return base + ".mp4"
}
