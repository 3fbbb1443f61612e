// Package governor implements the pure next-run planner: given an
// endpoint's state and the current time, it decides the next run time and
// tags its provenance. It has no side effects and performs no I/O — every
// dependency (the cron parser) is passed in so the function stays
// referentially transparent and trivially testable.
package governor

import (
	"time"

	"github.com/cronicorn/cronicorn/internal/cronexpr"
	"github.com/cronicorn/cronicorn/internal/domain"
)

// maxBackoffMultiplier caps exponential backoff at 32x the baseline interval
// (2^5), per spec.md §4.1 rule 2.
const maxBackoffMultiplier = 5

// Decision is the result of one governor evaluation.
type Decision struct {
	NextRunAt time.Time
	Source    domain.Source
}

// candidate is an internal scheduling option considered before clamping.
type candidate struct {
	at     time.Time
	source domain.Source
	// priority breaks ties among candidates landing at the exact same
	// instant: lower wins. Order is (ai-oneshot, ai-interval,
	// baseline-cron, baseline-interval) per spec.md §4.1 rule 4.
	priority int
}

// PlanNextRun is the governor's single entry point. now is the evaluation
// time; endpoint is the current (not-yet-advanced) endpoint snapshot; cron
// computes baseline-cron next-fire times.
func PlanNextRun(now time.Time, endpoint *domain.Endpoint, cron cronexpr.Cron) Decision {
	// Rule 1: pause wins outright, no other rule applies.
	if endpoint.PausedUntil != nil && endpoint.PausedUntil.After(now) {
		return Decision{NextRunAt: *endpoint.PausedUntil, Source: domain.SourcePaused}
	}

	candidates := []candidate{baselineCandidate(now, endpoint, cron)}
	candidates = append(candidates, aiCandidates(now, endpoint)...)

	chosen := earliest(candidates)

	nextAt, source := clamp(now, endpoint, chosen.at, chosen.source)

	// Rule 6: never schedule in the past.
	if nextAt.Before(now) {
		nextAt = now
	}

	return Decision{NextRunAt: nextAt, Source: source}
}

// baselineCandidate computes rule 2: cron next-fire, or backoff-adjusted
// interval, depending on which baseline the endpoint declares (I1
// guarantees exactly one is set).
func baselineCandidate(now time.Time, e *domain.Endpoint, c cronexpr.Cron) candidate {
	if e.BaselineCron != nil && *e.BaselineCron != "" {
		next, err := c.Next(*e.BaselineCron, now)
		if err != nil {
			// A cron expression that fails to parse here was validated at
			// write time; treat it as "due now plus a minute" rather than
			// propagating — the governor must stay total.
			return candidate{at: now.Add(time.Minute), source: domain.SourceBaselineCron, priority: 2}
		}
		return candidate{at: next, source: domain.SourceBaselineCron, priority: 2}
	}

	base := time.Duration(*e.BaselineIntervalMs) * time.Millisecond
	backoff := e.FailureCount
	if backoff > maxBackoffMultiplier {
		backoff = maxBackoffMultiplier
	}
	effective := base << backoff // base * 2^min(failureCount, 5), capped at 32x

	from := now
	if e.LastRunAt != nil && e.LastRunAt.After(from) {
		from = *e.LastRunAt
	}
	return candidate{at: from.Add(effective), source: domain.SourceBaselineInterval, priority: 3}
}

// aiCandidates computes rule 3: the fresh AI hint candidates, if any.
func aiCandidates(now time.Time, e *domain.Endpoint) []candidate {
	if !e.HasFreshHint(now) {
		return nil
	}

	var out []candidate
	if e.AIHintIntervalMs != nil {
		from := now
		if e.LastRunAt != nil && e.LastRunAt.After(from) {
			from = *e.LastRunAt
		}
		interval := time.Duration(*e.AIHintIntervalMs) * time.Millisecond
		out = append(out, candidate{at: from.Add(interval), source: domain.SourceAIInterval, priority: 1})
	}
	if e.AIHintNextRunAt != nil {
		out = append(out, candidate{at: *e.AIHintNextRunAt, source: domain.SourceAIOneshot, priority: 0})
	}
	return out
}

// earliest picks the candidate with the smallest time, breaking ties by
// priority (spec.md §4.1 rule 4).
func earliest(cs []candidate) candidate {
	best := cs[0]
	for _, c := range cs[1:] {
		if c.at.Before(best.at) || (c.at.Equal(best.at) && c.priority < best.priority) {
			best = c
		}
	}
	return best
}

// clamp applies rule 5: min/max guardrails, uniformly across all
// non-paused sources.
func clamp(now time.Time, e *domain.Endpoint, at time.Time, source domain.Source) (time.Time, domain.Source) {
	if e.MinIntervalMs != nil {
		minAt := now.Add(time.Duration(*e.MinIntervalMs) * time.Millisecond)
		if at.Before(minAt) {
			return minAt, domain.SourceClampedMin
		}
	}
	if e.MaxIntervalMs != nil && e.LastRunAt != nil {
		maxAt := e.LastRunAt.Add(time.Duration(*e.MaxIntervalMs) * time.Millisecond)
		if at.After(maxAt) {
			return maxAt, domain.SourceClampedMax
		}
	}
	return at, source
}
