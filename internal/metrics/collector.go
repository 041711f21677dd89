package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StatusCounter reports how many file records are in each lifecycle status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// FileStatusCollector collects file lifecycle gauges on each scrape
type FileStatusCollector struct {
	counter  StatusCounter
	statuses []string

	filesByStatus *prometheus.Desc
}

// NewFileStatusCollector creates a new collector. statuses lists every status
// that should be reported, so absent ones are exported as zero.
func NewFileStatusCollector(counter StatusCounter, statuses []string) *FileStatusCollector {
	return &FileStatusCollector{
		counter:  counter,
		statuses: statuses,
		filesByStatus: prometheus.NewDesc(
			"streamforge_files",
			"Number of file records by lifecycle status",
			[]string{"status"}, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *FileStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.filesByStatus
}

// Collect queries the repository and sends current counts to Prometheus
func (c *FileStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.counter.CountByStatus(ctx)
	if err != nil {
		slog.Error("failed to query file status metrics", "error", err)
		// Send zero values on error to avoid scrape failure
		counts = map[string]int64{}
	}

	for _, status := range c.statuses {
		ch <- prometheus.MustNewConstMetric(
			c.filesByStatus,
			prometheus.GaugeValue,
			float64(counts[status]),
			status,
		)
	}
}
