package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/repository"
)

// buildPrompt composes the system prompt for one endpoint's analysis
// session (spec.md §4.4.1 step 3): current time, job description,
// endpoint name/description, baseline schedule, last/next run, pause
// status, failure count, constraints, active hints, and health summary,
// followed by the decision framework the model should apply.
func buildPrompt(now time.Time, job *domain.Job, e *domain.Endpoint, health repository.HealthSummary, lastSession *domain.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current time (UTC): %s\n\n", now.UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "Job: %s\n", job.Name)
	if job.Description != nil && *job.Description != "" {
		fmt.Fprintf(&b, "Job description: %s\n", *job.Description)
	}

	fmt.Fprintf(&b, "\nEndpoint: %s\n", e.Name)
	if e.Description != nil && *e.Description != "" {
		fmt.Fprintf(&b, "Endpoint description: %s\n", *e.Description)
	}

	b.WriteString("\nBaseline schedule: ")
	switch {
	case e.BaselineCron != nil:
		fmt.Fprintf(&b, "cron %q\n", *e.BaselineCron)
	case e.BaselineIntervalMs != nil:
		fmt.Fprintf(&b, "every %dms\n", *e.BaselineIntervalMs)
	default:
		b.WriteString("none\n")
	}

	if e.MinIntervalMs != nil || e.MaxIntervalMs != nil {
		b.WriteString("Constraints: ")
		if e.MinIntervalMs != nil {
			fmt.Fprintf(&b, "minIntervalMs=%d ", *e.MinIntervalMs)
		}
		if e.MaxIntervalMs != nil {
			fmt.Fprintf(&b, "maxIntervalMs=%d", *e.MaxIntervalMs)
		}
		b.WriteString("\n")
	}

	if e.LastRunAt != nil {
		fmt.Fprintf(&b, "Last run: %s\n", e.LastRunAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Last run: never\n")
	}
	fmt.Fprintf(&b, "Next scheduled run: %s\n", e.NextRunAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Failure count: %d\n", e.FailureCount)

	if e.PausedUntil != nil && e.PausedUntil.After(now) {
		fmt.Fprintf(&b, "Paused until: %s\n", e.PausedUntil.UTC().Format(time.RFC3339))
	}

	if e.HasFreshHint(now) {
		b.WriteString("Active AI hint: ")
		if e.AIHintIntervalMs != nil {
			fmt.Fprintf(&b, "interval=%dms ", *e.AIHintIntervalMs)
		}
		if e.AIHintNextRunAt != nil {
			fmt.Fprintf(&b, "nextRunAt=%s ", e.AIHintNextRunAt.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(&b, "(expires %s)", e.AIHintExpiresAt.UTC().Format(time.RFC3339))
		if e.AIHintReason != nil {
			fmt.Fprintf(&b, " reason=%q", *e.AIHintReason)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n24h health summary: %d succeeded, %d failed, avg duration %.0fms, failure streak %d\n",
		health.SuccessCount, health.FailureCount, health.AvgDurationMs, health.FailureStreak)
	if health.LastRun != nil {
		fmt.Fprintf(&b, "Most recent run: %s\n", health.LastRun.UTC().Format(time.RFC3339))
	}

	if lastSession != nil {
		fmt.Fprintf(&b, "\nPrevious analysis (%s): %s\n", lastSession.AnalyzedAt.UTC().Format(time.RFC3339), lastSession.Reasoning)
	} else {
		b.WriteString("\nThis is the first analysis for this endpoint.\n")
	}

	b.WriteString("\nDecision framework: prefer stability over frequent intervention. Only propose a " +
		"schedule change, pause, or hint clearing when the evidence above (health summary, failure " +
		"streak, sibling endpoints) justifies it. Use the read tools to gather more evidence before " +
		"writing. Call submit_analysis exactly once, last, with a concrete reasoning statement.\n")

	return b.String()
}
