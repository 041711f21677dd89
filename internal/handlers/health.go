package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/utils"
)

const (
	// criticalDiskFreeBytes marks the upload volume unhealthy
	criticalDiskFreeBytes = 500 * 1024 * 1024 // 500MB

	// healthCheckTimeout bounds the database ping
	healthCheckTimeout = 5 * time.Second
)

// setHealthCacheHeaders keeps probes from being answered by caches.
func setHealthCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// HealthHandler handles GET /health
// The service is unhealthy when the database does not answer or the upload
// volume is nearly full; it reports draining while shutting down.
func HealthHandler(health repository.HealthRepository, ops *utils.OperationTracker, cfg *config.Config, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.HealthCheckDuration.Observe(time.Since(start).Seconds())
		}()

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := &models.HealthResponse{
			Status:        "healthy",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Database:      "ok",
		}
		if ops != nil {
			resp.ActiveOperations = ops.ActiveCount()
		}

		if err := health.Ping(ctx); err != nil {
			slog.Error("health check: database ping failed", "error", err)
			resp.Database = "unreachable"
			resp.Status = "unhealthy"
		}

		if disk, err := utils.GetDiskSpace(cfg.UploadDir); err != nil {
			slog.Error("health check: disk space unavailable", "path", cfg.UploadDir, "error", err)
			resp.Status = "unhealthy"
		} else {
			resp.DiskTotalBytes = disk.TotalBytes
			resp.DiskFreeBytes = disk.FreeBytes
			resp.DiskAvailableBytes = disk.AvailableBytes
			resp.DiskUsedPercent = disk.UsedPercent
			if disk.AvailableBytes < criticalDiskFreeBytes {
				resp.Status = "unhealthy"
			}
		}

		if ops != nil && ops.IsShuttingDown() && resp.Status == "healthy" {
			resp.Status = "draining"
		}

		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}

		metrics.HealthChecksTotal.WithLabelValues(resp.Status).Inc()
		updateHealthStatusGauge(resp.Status)

		setHealthCacheHeaders(w)
		sendJSON(w, code, resp)
	}
}

// updateHealthStatusGauge updates the Prometheus gauge based on status string
func updateHealthStatusGauge(status string) {
	switch status {
	case "healthy":
		metrics.HealthStatus.Set(2)
	case "draining":
		metrics.HealthStatus.Set(1)
	default:
		metrics.HealthStatus.Set(0)
	}
}
