package planner

import (
	"testing"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
)

func TestIsDueFirstAnalysis(t *testing.T) {
	e := &domain.Endpoint{FailureCount: 0}
	due, reason := isDue(e, nil, time.Now())
	if !due || reason != "first-analysis" {
		t.Fatalf("got due=%v reason=%q, want due=true reason=first-analysis", due, reason)
	}
}

func TestIsDueScheduled(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	session := &domain.Session{NextAnalysisAt: &past}
	due, reason := isDue(&domain.Endpoint{}, session, now)
	if !due || reason != "scheduled" {
		t.Fatalf("got due=%v reason=%q, want due=true reason=scheduled", due, reason)
	}
}

func TestIsDueStateChangeOverride(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	priorFailures := 1
	session := &domain.Session{NextAnalysisAt: &future, EndpointFailureCount: &priorFailures}
	e := &domain.Endpoint{FailureCount: 3}
	due, reason := isDue(e, session, now)
	if !due || reason != "state-change" {
		t.Fatalf("got due=%v reason=%q, want due=true reason=state-change", due, reason)
	}
}

func TestIsDueNotYet(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	priorFailures := 3
	session := &domain.Session{NextAnalysisAt: &future, EndpointFailureCount: &priorFailures}
	e := &domain.Endpoint{FailureCount: 3}
	due, _ := isDue(e, session, now)
	if due {
		t.Fatal("expected not due when scheduled in the future and no new failures")
	}
}
