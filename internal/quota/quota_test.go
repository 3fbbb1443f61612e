package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/memrepo"
	"github.com/cronicorn/cronicorn/internal/quota"
)

func TestCanProceedUnknownTierFailsClosed(t *testing.T) {
	store := memrepo.New()
	store.PutUser(&domain.User{ID: "u1", Tier: "mystery"})

	g := quota.New(store, store, nil, clock.Real{})
	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected unknown tier to fail closed")
	}
}

func TestCanProceedUnderLimit(t *testing.T) {
	store := memrepo.New()
	store.PutUser(&domain.User{ID: "u1", Tier: domain.TierFree})
	store.PutEndpoint(&domain.Endpoint{ID: "ep1", TenantID: "u1"})

	sessions := memrepo.NewSessions(store)
	_, err := sessions.Create(context.Background(), &domain.Session{
		EndpointID: "ep1",
		TokenUsage: int64Ptr(1000),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	g := quota.New(store, store, nil, clock.Real{})
	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected usage under the free tier limit to proceed")
	}
}

func TestCanProceedAtOrOverLimitBlocks(t *testing.T) {
	store := memrepo.New()
	store.PutUser(&domain.User{ID: "u1", Tier: domain.TierFree})
	store.PutEndpoint(&domain.Endpoint{ID: "ep1", TenantID: "u1"})

	sessions := memrepo.NewSessions(store)
	_, err := sessions.Create(context.Background(), &domain.Session{
		EndpointID: "ep1",
		TokenUsage: int64Ptr(100_000),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	g := quota.New(store, store, nil, clock.Real{})
	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected usage at the tier limit to block")
	}
}

func TestCanProceedUnknownUser(t *testing.T) {
	store := memrepo.New()
	g := quota.New(store, store, nil, clock.Real{})

	_, err := g.CanProceed(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected an error for an unknown user")
	}
}

func TestCanProceedOnlyCountsCurrentMonth(t *testing.T) {
	store := memrepo.New()
	store.PutUser(&domain.User{ID: "u1", Tier: domain.TierFree})
	store.PutEndpoint(&domain.Endpoint{ID: "ep1", TenantID: "u1"})

	sessions := memrepo.NewSessions(store)
	_, err := sessions.Create(context.Background(), &domain.Session{
		EndpointID: "ep1",
		TokenUsage: int64Ptr(99_999),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	g := quota.New(store, store, nil, clock.Real{})
	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected 99,999 tokens to remain under the 100,000 free tier cap")
	}
}

func TestCanProceedAtUTCMonthBoundary(t *testing.T) {
	monthStart := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)

	store := memrepo.New()
	store.PutUser(&domain.User{ID: "u1", Tier: domain.TierFree})
	store.PutEndpoint(&domain.Endpoint{ID: "ep1", TenantID: "u1"})

	sessions := memrepo.NewSessions(store)
	_, err := sessions.Create(context.Background(), &domain.Session{
		EndpointID: "ep1",
		TokenUsage: int64Ptr(100_000),
		AnalyzedAt: monthStart.Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	clk := clock.NewFrozen(monthStart)
	g := quota.New(store, store, nil, clk)

	ok, err := g.CanProceed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected usage from the second before the month boundary not to count")
	}

	_, err = sessions.Create(context.Background(), &domain.Session{
		EndpointID: "ep1",
		TokenUsage: int64Ptr(100_000),
		AnalyzedAt: monthStart,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ok, err = g.CanProceed(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected usage from the exact second of the month boundary to count")
	}
}

func int64Ptr(v int64) *int64 { return &v }
