package domain

import (
	"errors"
	"time"
)

var (
	ErrEndpointNotFound     = errors.New("endpoint not found")
	ErrEndpointNotOwned     = errors.New("endpoint does not belong to user")
	ErrInvalidCronExpr      = errors.New("invalid cron expression")
	ErrInvalidBaseline      = errors.New("exactly one of baselineCron or baselineIntervalMs must be set")
	ErrInvalidIntervalClamp = errors.New("minIntervalMs must be <= maxIntervalMs")
	ErrInvalidMethod        = errors.New("method must be one of GET, POST, PUT, PATCH, DELETE")
)

// Method is the HTTP verb an endpoint is invoked with.
type Method string

const (
	MethodGET    Method = "GET"
	MethodPOST   Method = "POST"
	MethodPUT    Method = "PUT"
	MethodPATCH  Method = "PATCH"
	MethodDELETE Method = "DELETE"
)

// Source tags the provenance of a governor decision (spec.md §4.1).
type Source string

const (
	SourcePaused            Source = "paused"
	SourceAIOneshot         Source = "ai-oneshot"
	SourceAIInterval        Source = "ai-interval"
	SourceBaselineCron      Source = "baseline-cron"
	SourceBaselineInterval  Source = "baseline-interval"
	SourceClampedMin        Source = "clamped-min"
	SourceClampedMax        Source = "clamped-max"
)

// Endpoint is the atomic scheduling target: a URL+method+schedule+state unit.
type Endpoint struct {
	ID       string
	JobID    *string
	TenantID string

	// Baseline cadence — exactly one of BaselineCron/BaselineIntervalMs is set (I1).
	BaselineCron       *string
	BaselineIntervalMs *int64

	// Guardrails.
	MinIntervalMs *int64
	MaxIntervalMs *int64

	// Hint slot — TTL-scoped, mutated by the AI planner.
	AIHintIntervalMs *int64
	AIHintNextRunAt  *time.Time
	AIHintExpiresAt  *time.Time
	AIHintReason     *string

	// Pause control — overrides all other scheduling sources while in the future.
	PausedUntil *time.Time

	// Runtime state.
	LastRunAt    *time.Time
	NextRunAt    time.Time
	FailureCount int

	// Execution config.
	URL                string
	Method             Method
	Headers            map[string]string
	BodyJSON           *string
	TimeoutMs          *int64
	MaxExecutionTimeMs *int64
	MaxResponseSizeKb  *int64

	// Adapter-private pessimistic lock deadline; not part of the domain
	// contract proper but present in storage and threaded through repo calls.
	LockedUntil *time.Time

	Name        string
	Description *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFreshHint reports whether the AI hint is still within its TTL (I5).
func (e *Endpoint) HasFreshHint(now time.Time) bool {
	return e.AIHintExpiresAt != nil && e.AIHintExpiresAt.After(now)
}

// Validate enforces the endpoint invariants (I1, I2) that must hold before
// the endpoint is ever handed to the governor or persisted.
func (e *Endpoint) Validate() error {
	hasCron := e.BaselineCron != nil && *e.BaselineCron != ""
	hasInterval := e.BaselineIntervalMs != nil
	if hasCron == hasInterval {
		return ErrInvalidBaseline
	}
	if hasInterval && *e.BaselineIntervalMs < 1000 {
		return ErrInvalidBaseline
	}
	if e.MinIntervalMs != nil && e.MaxIntervalMs != nil && *e.MinIntervalMs > *e.MaxIntervalMs {
		return ErrInvalidIntervalClamp
	}
	switch e.Method {
	case MethodGET, MethodPOST, MethodPUT, MethodPATCH, MethodDELETE, "":
	default:
		return ErrInvalidMethod
	}
	return nil
}

// DefaultMaxResponseSizeKb is applied when an endpoint doesn't set one.
const DefaultMaxResponseSizeKb int64 = 100
