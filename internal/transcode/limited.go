package transcode

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fjmerc/streamforge/internal/metrics"
)

// LimitedRunner bounds how many commands run at once and records metrics.
// Callers over the limit block until a slot frees up or ctx is done.
type LimitedRunner struct {
	next  Runner
	sem   *semaphore.Weighted
	limit int64
}

// Ensure LimitedRunner implements Runner
var _ Runner = (*LimitedRunner)(nil)

// NewLimitedRunner wraps next with a concurrency limit of at least one.
func NewLimitedRunner(next Runner, limit int) *LimitedRunner {
	if limit < 1 {
		limit = 1
	}
	return &LimitedRunner{
		next:  next,
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Limit returns the configured concurrency limit.
func (l *LimitedRunner) Limit() int {
	return int(l.limit)
}

func (l *LimitedRunner) Run(ctx context.Context, c Command) (*Result, error) {
	waitStart := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	metrics.TranscodeQueueWait.Observe(time.Since(waitStart).Seconds())
	metrics.TranscodesRunning.Inc()
	defer metrics.TranscodesRunning.Dec()

	start := time.Now()
	res, err := l.next.Run(ctx, c)

	metrics.TranscodeDuration.WithLabelValues(c.Op).Observe(time.Since(start).Seconds())
	metrics.TranscodeInvocationsTotal.WithLabelValues(c.Op, outcome(err)).Inc()

	return res, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrExternalTool):
		return "tool_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "io_error"
	}
}
