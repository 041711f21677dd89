package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/database"
	"github.com/fjmerc/streamforge/internal/handlers"
	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/playback"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/repository/postgres"
	"github.com/fjmerc/streamforge/internal/repository/sqlite"
	"github.com/fjmerc/streamforge/internal/storage/filesystem"
	"github.com/fjmerc/streamforge/internal/storage/s3"
	"github.com/fjmerc/streamforge/internal/tracker"
	"github.com/fjmerc/streamforge/internal/transcode"
	"github.com/fjmerc/streamforge/internal/upload"
	"github.com/fjmerc/streamforge/internal/utils"
	"github.com/fjmerc/streamforge/internal/watermark"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogger(cfg.LogLevel)
			return serve(cfg)
		},
	}
}

// openRepositories connects to the configured database backend.
func openRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.DBType {
	case config.DBTypePostgres:
		return postgres.NewRepositories(ctx, cfg.PostgreSQL)
	default:
		db, err := database.Initialize(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		repos, err := sqlite.NewRepositories(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return repos, nil
	}
}

func openTracker(cfg *config.Config, paths tracker.PathFunc) (tracker.Tracker, error) {
	if cfg.TrackerBackend == config.TrackerBadger {
		return tracker.NewBadgerTracker(cfg.TrackerDir, paths)
	}
	return tracker.NewMemoryTracker(paths), nil
}

func serve(cfg *config.Config) error {
	slog.Info("starting streamforge",
		"version", version,
		"port", cfg.Port,
		"db_type", cfg.DBType,
		"tracker", cfg.TrackerBackend,
		"max_chunk_size", cfg.MaxChunkSize,
		"max_file_size", cfg.MaxFileSize,
		"max_concurrent_transcodes", cfg.MaxConcurrentTranscodes,
		"instance_id", cfg.InstanceID,
		"s3_publish", cfg.S3 != nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repos.Close()
	slog.Info("database initialized", "type", repos.DatabaseType)

	store, err := filesystem.NewChunkStore(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to initialize upload directory: %w", err)
	}
	slog.Info("upload directory ready", "path", cfg.UploadDir)

	chunks, err := openTracker(cfg, store.ChunkPath)
	if err != nil {
		return fmt.Errorf("failed to initialize upload tracker: %w", err)
	}
	defer chunks.Close()

	runner := transcode.NewLimitedRunner(transcode.NewExecRunner(), cfg.MaxConcurrentTranscodes)
	pipeline := transcode.NewPipeline(runner, transcode.Options{
		FFmpegPath:          cfg.FFmpegPath,
		SplitSegmentSeconds: cfg.SplitSegmentSeconds,
		HLSSegmentSeconds:   cfg.HLSSegmentSeconds,
		WatermarkCRF:        cfg.WatermarkCRF,
	})

	uploads := upload.NewService(repos, store, chunks, pipeline, upload.Config{
		MaxChunkSize:   cfg.MaxChunkSize,
		MaxFileSize:    cfg.MaxFileSize,
		AbandonedAfter: cfg.AbandonedAfter(),
	})

	if cfg.S3 != nil {
		publisher, err := s3.NewPublisher(ctx, s3.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize S3 publisher: %w", err)
		}
		uploads.SetPublisher(publisher)
		slog.Info("publishing HLS output to S3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	engine := watermark.NewEngine(repos.Watermarks, watermark.NewCodeGenerator(cfg.InstanceID), pipeline, cfg.WatermarkLogo)
	player := playback.NewService(repos.Files, store, engine)

	statuses := make([]string, 0, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		statuses = append(statuses, string(s))
	}
	prometheus.MustRegister(metrics.NewFileStatusCollector(repos.Files, statuses))

	ops := utils.NewOperationTracker()

	handler := handlers.NewRouter(handlers.Dependencies{
		Config:     cfg,
		Uploads:    uploads,
		Playback:   player,
		Health:     repos.Health,
		Operations: ops,
		StartTime:  time.Now(),
	})

	// Write timeout covers whole-file uploads and export renders
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Minute,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go uploads.StartMaintenanceWorker(ctx, cfg.SweepInterval())

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig, "active_operations", ops.ActiveCount())

		ops.BeginShutdown()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if !ops.Wait(shutdownCtx) {
			slog.Warn("shutdown timeout reached with operations in flight", "active_operations", ops.ActiveCount())
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				slog.Error("server close failed", "error", err)
			}
			return err
		}

		slog.Info("server shutdown complete")
	}
	return nil
}
