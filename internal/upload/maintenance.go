package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/transcode"
)

const (
	// sweepBatchSize bounds how many uploads one sweep pass handles.
	sweepBatchSize = 100

	// playlistEndTag closes a VOD playlist; ffmpeg writes it last.
	playlistEndTag = "#EXT-X-ENDLIST"
)

// garbageCollector is implemented by trackers with on-disk garbage to reclaim.
type garbageCollector interface {
	RunGC()
}

// RecoverInterrupted resolves uploads stuck in completing longer than the
// grace period. If packaging had run to the end the upload is finalized,
// otherwise it returns to ingesting so the client can retry.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.files.ListStale(ctx, repository.StaleFilter{
		Statuses:      []models.UploadStatus{models.StatusCompleting},
		UpdatedBefore: s.now().Add(-s.cfg.CompletingGrace),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted completions: %w", err)
	}

	recovered := 0
	for _, file := range stuck {
		if s.packagingFinished(file) {
			ok, err := s.files.Finalize(ctx, file.ID)
			if err != nil {
				slog.Error("failed to finalize recovered upload", "upload_id", file.ID, "error", err)
				continue
			}
			if ok {
				s.afterFinalize(ctx, file.ID)
				recovered++
				slog.Info("finalized interrupted completion", "upload_id", file.ID)
			}
			continue
		}

		ok, err := s.files.TransitionStatus(ctx, file.ID,
			[]models.UploadStatus{models.StatusCompleting}, models.StatusIngesting)
		if err != nil {
			slog.Error("failed to reset interrupted completion", "upload_id", file.ID, "error", err)
			continue
		}
		if ok {
			recovered++
			slog.Info("reset interrupted completion",
				"upload_id", file.ID,
				"stuck_since", file.UpdatedAt,
			)
		}
	}
	return recovered, nil
}

// packagingFinished reports whether the HLS muxer wrote a closed playlist and
// the chunks it consumed are gone. The muxer rewrites the playlist after every
// segment, so a playlist alone does not prove packaging succeeded.
func (s *Service) packagingFinished(file models.FileRecord) bool {
	playlist := filepath.Join(s.store.UploadDir(file.ID), transcode.PlaylistName)
	data, err := os.ReadFile(playlist)
	if err != nil {
		return false
	}
	if !strings.HasSuffix(strings.TrimSpace(string(data)), playlistEndTag) {
		slog.Warn("interrupted completion left an open playlist", "upload_id", file.ID)
		return false
	}

	for i := 1; i <= file.ExpectedChunks; i++ {
		if _, err := os.Stat(s.store.ChunkPath(file.ID, i)); err == nil {
			slog.Warn("interrupted completion left chunks behind",
				"upload_id", file.ID,
				"chunk_index", i,
			)
			return false
		}
	}
	return true
}

// SweepAbandoned fails uploads idle for longer than AbandonedAfter and
// removes their chunks, chunk records and tracker state.
func (s *Service) SweepAbandoned(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.AbandonedAfter)
	stale, err := s.files.ListStale(ctx, repository.StaleFilter{
		Statuses:      []models.UploadStatus{models.StatusInitialized, models.StatusIngesting},
		UpdatedBefore: cutoff,
		Limit:         sweepBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list abandoned uploads: %w", err)
	}

	swept := 0
	for _, file := range stale {
		// Every accepted chunk bumps updated_at, so re-check before failing.
		current, err := s.files.GetByID(ctx, file.ID)
		if err != nil {
			slog.Error("failed to reload abandoned upload", "upload_id", file.ID, "error", err)
			continue
		}
		if current.UpdatedAt.After(cutoff) || !slices.Contains(accepting, current.Status) {
			continue
		}

		ok, err := s.files.TransitionStatus(ctx, file.ID,
			[]models.UploadStatus{current.Status}, models.StatusFailed)
		if err != nil {
			slog.Error("failed to fail abandoned upload", "upload_id", file.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		s.discard(ctx, file.ID)
		swept++
		metrics.SweptUploadsTotal.Inc()
		slog.Info("abandoned upload swept",
			"upload_id", file.ID,
			"status", file.Status,
			"idle_since", file.UpdatedAt,
		)
	}

	if gc, ok := s.tracker.(garbageCollector); ok && swept > 0 {
		gc.RunGC()
	}
	return swept, nil
}

// StartMaintenanceWorker runs recovery once immediately and then recovery
// and sweeping on every tick until ctx is cancelled.
func (s *Service) StartMaintenanceWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("upload maintenance worker started", "interval", interval)

	s.runMaintenance(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("upload maintenance worker shutting down")
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

func (s *Service) runMaintenance(ctx context.Context) {
	start := time.Now()

	recovered, err := s.RecoverInterrupted(ctx)
	if err != nil {
		slog.Error("upload recovery failed", "error", err)
	}

	swept, err := s.SweepAbandoned(ctx)
	if err != nil {
		slog.Error("upload sweep failed", "error", err)
	}

	if recovered > 0 || swept > 0 {
		slog.Info("upload maintenance completed",
			"recovered", recovered,
			"swept", swept,
			"duration", time.Since(start),
		)
	} else {
		slog.Debug("upload maintenance completed", "duration", time.Since(start))
	}
}
