// Package scheduler runs the governor/dispatcher tick loop described in
// spec.md §4.2: claim due endpoints, execute them, record the outcome,
// and advance each endpoint to its next run. Its Start/ticker/goroutine
// shape generalizes the teacher's internal/scheduler/worker.go (claim a
// batch, fan the batch out to goroutines, heartbeat each in-flight job)
// to the endpoint/run domain, and its logging follows the teacher's
// scheduler/dispatcher.go, which already used slog instead of worker.go's
// plain log.Printf.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/cronexpr"
	"github.com/cronicorn/cronicorn/internal/dispatcher"
	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/governor"
	"github.com/cronicorn/cronicorn/internal/metrics"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/cronicorn/cronicorn/internal/requestid"
)

// heartbeatInterval is how often an in-flight endpoint's lock is extended
// while it runs, mirroring the teacher's 10-second heartbeat cadence.
const heartbeatInterval = 10 * time.Second

// Config bounds one Worker's batch size and timing. All of these back
// directly onto the env vars spec.md §6 names.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	ClaimHorizonMs int64
}

// Worker is the scheduler's tick loop: claim due endpoints, dispatch each,
// record the run, and advance nextRunAt via the governor.
type Worker struct {
	id         string
	jobs       repository.JobsRepo
	runs       repository.RunsRepo
	dispatcher *dispatcher.Dispatcher
	cron       cronexpr.Cron
	clock      clock.Clock
	logger     *slog.Logger
	cfg        Config
}

func NewWorker(jobs repository.JobsRepo, runs repository.RunsRepo, disp *dispatcher.Dispatcher, cron cronexpr.Cron, clk clock.Clock, logger *slog.Logger, cfg Config) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		id:         fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		jobs:       jobs,
		runs:       runs,
		dispatcher: disp,
		cron:       cron,
		clock:      clk,
		logger:     logger.With("component", "scheduler"),
		cfg:        cfg,
	}
}

// Start runs the tick loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("scheduler worker started", "worker_id", w.id, "batch_size", w.cfg.BatchSize, "poll_interval", w.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("scheduler worker shut down", "worker_id", w.id)
			metrics.WorkerShutdownsTotal.Inc()
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	endpoints, err := w.jobs.ClaimDueEndpoints(ctx, w.cfg.BatchSize, w.cfg.ClaimHorizonMs)
	if err != nil {
		w.logger.Error("claim due endpoints", "error", err)
		return
	}
	if len(endpoints) == 0 {
		return
	}

	now := w.clock.Now()
	for _, e := range endpoints {
		metrics.ClaimLatency.Observe(now.Sub(e.NextRunAt).Seconds())
	}

	w.logger.Info("claimed endpoints", "worker_id", w.id, "count", len(endpoints))

	var wg sync.WaitGroup
	for _, e := range endpoints {
		wg.Add(1)
		go func(ep *domain.Endpoint) {
			defer wg.Done()
			w.runEndpoint(ctx, ep)
		}(e)
	}
	wg.Wait()
}

func (w *Worker) runEndpoint(ctx context.Context, e *domain.Endpoint) {
	metrics.EndpointsInFlight.Inc()
	defer metrics.EndpointsInFlight.Dec()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, e.ID)

	// Re-derive the governor decision that produced e.NextRunAt (the
	// reason this run is due now), rather than guessing from the
	// baseline fields alone — a hint, pause, or clamp may be what
	// actually governed it (spec.md §4.2 step 2b).
	dueDecision := governor.PlanNextRun(e.NextRunAt, e, w.cron)

	run, err := w.runs.Create(ctx, repository.CreateRunInput{
		EndpointID: e.ID,
		Attempt:    e.FailureCount + 1,
		Source:     dueDecision.Source,
	})
	if err != nil {
		w.logger.Error("create run", "endpoint_id", e.ID, "error", err)
		return
	}

	ctx = requestid.WithRunID(ctx, run.ID)

	w.logger.InfoContext(ctx, "dispatching endpoint", "worker_id", w.id, "endpoint_id", e.ID, "url", e.URL)

	outcome := w.dispatcher.Execute(ctx, e)

	if err := w.runs.Finish(ctx, run.ID, repository.FinishRunInput{
		Status:       outcome.Status,
		DurationMs:   outcome.DurationMs,
		StatusCode:   outcome.StatusCode,
		ResponseBody: outcome.ResponseBody,
		ErrorMessage: outcome.ErrorMessage,
	}); err != nil {
		w.logger.ErrorContext(ctx, "finish run", "error", err)
	}

	metrics.DispatchDuration.WithLabelValues(string(outcome.Status)).Observe(float64(outcome.DurationMs) / 1000)
	metrics.RunsCompletedTotal.WithLabelValues(string(outcome.Status)).Inc()

	now := w.clock.Now()
	endpointAfterRun := *e
	if outcome.Status == domain.RunSuccess {
		endpointAfterRun.FailureCount = 0
	} else {
		endpointAfterRun.FailureCount++
	}
	endpointAfterRun.LastRunAt = &now

	decision := governor.PlanNextRun(now, &endpointAfterRun, w.cron)

	if err := w.jobs.UpdateAfterRun(ctx, e.ID, now, decision, repository.RunOutcome{Status: outcome.Status}); err != nil {
		w.logger.ErrorContext(ctx, "advance endpoint after run", "endpoint_id", e.ID, "error", err)
		return
	}

	w.logger.InfoContext(ctx, "endpoint advanced", "endpoint_id", e.ID, "next_run_at", decision.NextRunAt, "source", decision.Source)
}

// heartbeat extends the endpoint's pessimistic lock while it is being
// dispatched, the same purpose the teacher's worker.heartbeat serves for
// in-flight jobs — without it, a slow endpoint would appear reclaimable
// by another process before it finishes.
func (w *Worker) heartbeat(ctx context.Context, endpointID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until := w.clock.Now().Add(2 * heartbeatInterval)
			if err := w.jobs.SetLock(ctx, endpointID, until); err != nil {
				w.logger.Warn("heartbeat lock extension failed", "endpoint_id", endpointID, "error", err)
			}
		}
	}
}
