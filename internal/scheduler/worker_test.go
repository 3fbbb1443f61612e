package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/cronexpr"
	"github.com/cronicorn/cronicorn/internal/dispatcher"
	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/memrepo"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/cronicorn/cronicorn/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerAdvancesEndpointAfterSuccessfulRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memrepo.New()
	runs := memrepo.NewRuns(store)

	interval := int64(60_000)
	ep := &domain.Endpoint{
		ID:                 "ep-1",
		TenantID:           "tenant-1",
		BaselineIntervalMs: &interval,
		URL:                srv.URL,
		Method:             domain.MethodGET,
		NextRunAt:          time.Now().Add(-time.Second),
	}
	store.PutEndpoint(ep)

	worker := scheduler.NewWorker(
		store,
		runs,
		dispatcher.New(discardLogger()),
		cronexpr.Standard{},
		clock.Real{},
		discardLogger(),
		scheduler.Config{
			PollInterval:   50 * time.Millisecond,
			BatchSize:      10,
			ClaimHorizonMs: 10_000,
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go worker.Start(ctx)

	deadline := time.Now().Add(800 * time.Millisecond)
	for time.Now().Before(deadline) {
		got, err := store.GetEndpoint(context.Background(), ep.ID, ep.TenantID)
		if err != nil {
			t.Fatalf("get endpoint: %v", err)
		}
		if got.LastRunAt != nil {
			if got.NextRunAt.Before(time.Now()) {
				t.Fatalf("expected nextRunAt to be advanced into the future, got %s", got.NextRunAt)
			}
			if got.LockedUntil != nil {
				t.Fatalf("expected lock to be released after run, got %v", got.LockedUntil)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("endpoint was never run within the deadline")
}

func TestCleanerReapsZombieRuns(t *testing.T) {
	store := memrepo.New()
	runs := memrepo.NewRuns(store)

	stuck, err := runs.Create(context.Background(), repository.CreateRunInput{
		EndpointID: "ep-2",
		Attempt:    1,
		Source:     domain.SourceBaselineInterval,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	cleaner := scheduler.NewCleaner(runs, 20*time.Millisecond, time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go cleaner.Start(ctx)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		got, err := runs.GetRunDetails(context.Background(), stuck.ID)
		if err != nil {
			t.Fatalf("get run details: %v", err)
		}
		if got.Status == domain.RunFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("zombie run was never reaped within the deadline")
}
