package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cronicorn/cronicorn/internal/metrics"
	"github.com/cronicorn/cronicorn/internal/repository"
)

// Cleaner periodically reaps zombie runs (spec.md §4.2.2): runs stuck in
// RunRunning past ZombieRunThresholdMs without finishing, left behind by a
// worker process that crashed or was killed mid-dispatch. It generalizes
// the teacher's internal/scheduler/reaper.go, which did the equivalent for
// stale heartbeats on the job model, to runs on the endpoint model.
type Cleaner struct {
	runs      repository.RunsRepo
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger
}

func NewCleaner(runs repository.RunsRepo, interval, threshold time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		runs:      runs,
		interval:  interval,
		threshold: threshold,
		logger:    logger.With("component", "cleaner"),
	}
}

func (c *Cleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("zombie run cleaner started", "interval", c.interval, "threshold", c.threshold)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("zombie run cleaner shut down")
			return
		case <-ticker.C:
			c.clean(ctx)
		}
	}
}

func (c *Cleaner) clean(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.CleanupCycleDuration.Observe(time.Since(start).Seconds()) }()

	n, err := c.runs.CleanupZombieRuns(ctx, c.threshold.Milliseconds())
	if err != nil {
		c.logger.Error("cleanup zombie runs", "error", err)
		return
	}
	if n > 0 {
		c.logger.Info("reaped zombie runs", "count", n)
		metrics.ZombieRunsReapedTotal.Add(float64(n))
	}
}
