package watermark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/storage"
	"github.com/fjmerc/streamforge/internal/transcode"
)

const (
	// WatermarkedDir holds rendered segments inside an upload directory.
	WatermarkedDir = "watermarked"

	// ExportName is the rendered full-length export inside an upload directory.
	ExportName = "export.mp4"

	kindSegment = "segment"
	kindExport  = "export"

	// renderTimeout bounds a shared render once it no longer follows the
	// context of the request that started it.
	renderTimeout = 30 * time.Minute

	// maxCodeAttempts bounds retries when a generated code is already owned
	// by another (user, file) pair.
	maxCodeAttempts = 5
)

// Overlayer composites the logo and optional code badge onto input.
// *transcode.Pipeline satisfies it.
type Overlayer interface {
	Overlay(ctx context.Context, input, logo, code, output string) error
}

var _ Overlayer = (*transcode.Pipeline)(nil)

// Engine assigns watermark codes and renders watermarked artifacts with an
// on-disk cache keyed by output path.
type Engine struct {
	codes    repository.WatermarkRepository
	gen      *CodeGenerator
	overlay  Overlayer
	logoPath string

	flight singleflight.Group
}

// NewEngine creates an Engine. logoPath must point at the overlay image.
func NewEngine(codes repository.WatermarkRepository, gen *CodeGenerator, overlay Overlayer, logoPath string) *Engine {
	if gen == nil {
		gen = NewCodeGenerator("")
	}
	return &Engine{
		codes:    codes,
		gen:      gen,
		overlay:  overlay,
		logoPath: logoPath,
	}
}

// SegmentPath returns where the copy of segment watermarked with code is
// cached: <upload>/watermarked/<code>/<segment>, or <upload>/watermarked/<segment>
// when code is empty.
func SegmentPath(uploadDir, code, segment string) string {
	return filepath.Join(uploadDir, WatermarkedDir, code, filepath.Base(segment))
}

// ExportPath returns where the export watermarked with code is cached:
// <upload>/watermarked/<code>/export.mp4, or <upload>/export.mp4 when code is empty.
func ExportPath(uploadDir, code string) string {
	if code == "" {
		return filepath.Join(uploadDir, ExportName)
	}
	return filepath.Join(uploadDir, WatermarkedDir, code, ExportName)
}

// GetOrCreateCode returns the code assigned to (userID, fileID), creating one
// on first access. Concurrent first calls resolve to a single stored code.
func (e *Engine) GetOrCreateCode(ctx context.Context, userID int64, fileID string) (string, error) {
	existing, err := e.codes.Get(ctx, userID, fileID)
	if err == nil {
		return existing.Code, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("failed to look up watermark code: %w", err)
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		candidate := e.gen.Next()

		assignment, created, err := e.codes.GetOrCreate(ctx, userID, fileID, candidate)
		if errors.Is(err, repository.ErrDuplicateKey) {
			slog.Debug("watermark code collision, regenerating",
				"user_id", userID,
				"file_id", fileID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to assign watermark code: %w", err)
		}

		if created {
			metrics.WatermarkCodesCreatedTotal.Inc()
			slog.Info("watermark code assigned",
				"user_id", userID,
				"file_id", fileID,
				"code", assignment.Code,
			)
		}
		return assignment.Code, nil
	}

	return "", fmt.Errorf("failed to assign watermark code after %d attempts: %w", maxCodeAttempts, repository.ErrDuplicateKey)
}

// RenderSegment writes original with the watermark to output. An existing
// output is a cache hit and no external tool runs.
func (e *Engine) RenderSegment(ctx context.Context, original, output, code string) error {
	return e.render(ctx, kindSegment, original, output, code)
}

// RenderExport renders the whole playlist into a single watermarked file with
// the same caching contract as RenderSegment.
func (e *Engine) RenderExport(ctx context.Context, playlist, output, code string) error {
	return e.render(ctx, kindExport, playlist, output, code)
}

func (e *Engine) render(ctx context.Context, kind, input, output, code string) error {
	if fileExists(output) {
		metrics.WatermarkCacheTotal.WithLabelValues(kind, "hit").Inc()
		return nil
	}
	metrics.WatermarkCacheTotal.WithLabelValues(kind, "miss").Inc()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Concurrent misses for one output share a single render. It runs
	// detached from the caller that started it, so a disconnecting leader
	// does not fail the others; each caller still stops waiting on its own ctx.
	ch := e.flight.DoChan(output, func() (interface{}, error) {
		if fileExists(output) {
			return nil, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
		defer cancel()
		return nil, e.renderFile(rctx, kind, input, output, code)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Debug("shared in-flight render", "kind", kind, "output", output)
		}
		return res.Err
	}
}

// renderFile runs the overlay into a temporary sibling of output and renames
// it into place, so a failed render never leaves a partial output.
func (e *Engine) renderFile(ctx context.Context, kind, input, output, code string) error {
	if _, err := os.Stat(input); err != nil {
		return storage.NewStorageError("Render", input, err)
	}
	if _, err := os.Stat(e.logoPath); err != nil {
		return storage.NewStorageErrorWithMessage("Render", e.logoPath, err, "watermark logo unavailable")
	}

	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storage.NewStorageError("Render", dir, err)
	}

	// ffmpeg picks the container from the extension, so keep it on the temp name.
	tmp := filepath.Join(dir, ".render-"+uuid.New().String()+filepath.Ext(output))

	slog.Info("rendering watermark",
		"kind", kind,
		"input", input,
		"output", output,
		"has_code", code != "",
	)

	if err := e.overlay.Overlay(ctx, input, e.logoPath, code, tmp); err != nil {
		removeQuietly(tmp)
		return err
	}

	if err := os.Rename(tmp, output); err != nil {
		removeQuietly(tmp)
		return storage.NewStorageError("Render", output, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove temporary render", "path", path, "error", err)
	}
}
