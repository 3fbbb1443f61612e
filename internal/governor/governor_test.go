package governor_test

import (
	"testing"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/governor"
)

type fakeCron struct {
	next time.Time
	err  error
}

func (f fakeCron) Next(_ string, _ time.Time) (time.Time, error) {
	return f.next, f.err
}

func ptr[T any](v T) *T { return &v }

func TestPlanNextRunPauseDominates(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pausedUntil := now.Add(time.Hour)
	interval := int64(1000)
	e := &domain.Endpoint{
		PausedUntil:        &pausedUntil,
		BaselineIntervalMs: &interval,
		AIHintNextRunAt:    ptr(now.Add(time.Minute)),
		AIHintExpiresAt:    ptr(now.Add(time.Hour)),
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	if d.Source != domain.SourcePaused {
		t.Fatalf("expected paused source, got %s", d.Source)
	}
	if !d.NextRunAt.Equal(pausedUntil) {
		t.Fatalf("expected nextRunAt %s, got %s", pausedUntil, d.NextRunAt)
	}
}

func TestPlanNextRunExpiredPauseIsIgnored(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	interval := int64(60_000)
	e := &domain.Endpoint{
		PausedUntil:        &expired,
		BaselineIntervalMs: &interval,
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	if d.Source == domain.SourcePaused {
		t.Fatal("expired pause should not dominate")
	}
}

func TestPlanNextRunBackoffDoublesAndCaps(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(60_000)

	cases := []struct {
		failures int
		wantMult int64
	}{
		{0, 1},
		{1, 2},
		{2, 4},
		{5, 32},
		{9, 32}, // capped at 2^5
	}

	for _, c := range cases {
		e := &domain.Endpoint{
			BaselineIntervalMs: &interval,
			FailureCount:       c.failures,
			LastRunAt:          &now,
		}
		d := governor.PlanNextRun(now, e, fakeCron{})
		want := now.Add(time.Duration(interval*c.wantMult) * time.Millisecond)
		if !d.NextRunAt.Equal(want) {
			t.Fatalf("failures=%d: expected %s, got %s", c.failures, want, d.NextRunAt)
		}
	}
}

func TestPlanNextRunFreshAIHintOneshotWinsOverInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(60_000)
	aiInterval := int64(5_000)
	oneshot := now.Add(2 * time.Second)

	e := &domain.Endpoint{
		BaselineIntervalMs: &interval,
		AIHintIntervalMs:   &aiInterval,
		AIHintNextRunAt:    &oneshot,
		AIHintExpiresAt:    ptr(now.Add(time.Hour)),
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	if d.Source != domain.SourceAIOneshot {
		t.Fatalf("expected ai-oneshot to win tie/earliest, got %s at %s", d.Source, d.NextRunAt)
	}
}

func TestPlanNextRunExpiredHintIgnored(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(60_000)
	aiInterval := int64(5_000)
	expired := now.Add(-time.Second)

	e := &domain.Endpoint{
		BaselineIntervalMs: &interval,
		AIHintIntervalMs:   &aiInterval,
		AIHintExpiresAt:    &expired,
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	if d.Source == domain.SourceAIInterval || d.Source == domain.SourceAIOneshot {
		t.Fatalf("expired hint should not be selected, got %s", d.Source)
	}
}

func TestPlanNextRunClampsToMin(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(60_000)
	minMs := int64(120_000)
	oneshot := now.Add(time.Second) // earlier than min clamp

	e := &domain.Endpoint{
		BaselineIntervalMs: &interval,
		MinIntervalMs:      &minMs,
		AIHintNextRunAt:    &oneshot,
		AIHintExpiresAt:    ptr(now.Add(time.Hour)),
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	want := now.Add(time.Duration(minMs) * time.Millisecond)
	if !d.NextRunAt.Equal(want) {
		t.Fatalf("expected clamp to min at %s, got %s", want, d.NextRunAt)
	}
	if d.Source != domain.SourceClampedMin {
		t.Fatalf("expected clamped-min source, got %s", d.Source)
	}
}

func TestPlanNextRunClampsToMax(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(24 * 3_600_000) // 24h baseline, way beyond maxIntervalMs
	maxMs := int64(3_600_000)         // 1h max
	lastRun := now

	e := &domain.Endpoint{
		BaselineIntervalMs: &interval,
		MaxIntervalMs:      &maxMs,
		LastRunAt:          &lastRun,
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	want := lastRun.Add(time.Duration(maxMs) * time.Millisecond)
	if !d.NextRunAt.Equal(want) {
		t.Fatalf("expected clamp to max at %s, got %s", want, d.NextRunAt)
	}
	if d.Source != domain.SourceClampedMax {
		t.Fatalf("expected clamped-max source, got %s", d.Source)
	}
}

func TestPlanNextRunNeverSchedulesInThePast(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(60_000)
	past := now.Add(-time.Hour)

	e := &domain.Endpoint{
		BaselineIntervalMs: &interval,
		AIHintNextRunAt:    &past,
		AIHintExpiresAt:    ptr(now.Add(time.Hour)),
	}

	d := governor.PlanNextRun(now, e, fakeCron{})

	if d.NextRunAt.Before(now) {
		t.Fatalf("governor must never schedule in the past, got %s (now=%s)", d.NextRunAt, now)
	}
}

func TestPlanNextRunCronBaseline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(5 * time.Minute)
	cronExpr := "*/5 * * * *"

	e := &domain.Endpoint{BaselineCron: &cronExpr}

	d := governor.PlanNextRun(now, e, fakeCron{next: next})

	if d.Source != domain.SourceBaselineCron {
		t.Fatalf("expected baseline-cron source, got %s", d.Source)
	}
	if !d.NextRunAt.Equal(next) {
		t.Fatalf("expected %s, got %s", next, d.NextRunAt)
	}
}

func TestPlanNextRunIsTotal(t *testing.T) {
	// Every endpoint shape that satisfies Validate must produce a decision
	// without panicking, regardless of which optional fields are nil.
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := int64(60_000)
	endpoints := []*domain.Endpoint{
		{BaselineIntervalMs: &interval},
		{BaselineIntervalMs: &interval, LastRunAt: &now},
		{BaselineIntervalMs: &interval, FailureCount: 3},
	}
	for i, e := range endpoints {
		d := governor.PlanNextRun(now, e, fakeCron{})
		if d.NextRunAt.IsZero() {
			t.Fatalf("case %d: expected a non-zero decision", i)
		}
	}
}
