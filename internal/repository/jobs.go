// Package repository declares the storage contracts consumed by the
// scheduler worker, the AI planner worker, and (by interface only, per
// spec.md §1) the external CRUD API. Each interface is named exactly as
// spec.md §6 names it; the SQL-backed implementation lives under
// internal/infrastructure/postgres, and internal/memrepo provides an
// in-memory fixture for tests — the teacher's own
// JobRepository/ScheduleRepository split (internal/repository/job.go,
// schedule.go) is generalized here into Jobs+endpoints, Runs, Sessions.
package repository

import (
	"context"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/governor"
)

// ListJobsInput filters JobsRepo.ListJobs.
type ListJobsInput struct {
	UserID string
	Status domain.JobStatus // zero value means "any"
}

// JobsRepo is the contract over jobs and their endpoints.
type JobsRepo interface {
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetJob(ctx context.Context, id, userID string) (*domain.Job, error)
	// GetJobByID is the unscoped counterpart to GetJob, for internal
	// workers (the AI planner) that already hold an endpoint/job ID and
	// have no user session to scope against.
	GetJobByID(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, input ListJobsInput) ([]*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
	ArchiveJob(ctx context.Context, id, userID string) error

	AddEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error)
	UpdateEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error)
	GetEndpoint(ctx context.Context, id, userID string) (*domain.Endpoint, error)
	// GetEndpointByID is the unscoped counterpart to GetEndpoint, used by
	// the scheduler and AI planner workers, which operate on endpoints
	// directly rather than through an authenticated user session.
	GetEndpointByID(ctx context.Context, id string) (*domain.Endpoint, error)
	ListEndpointsByJob(ctx context.Context, jobID, userID string) ([]*domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, id, userID string) error

	// ClaimDueEndpoints atomically claims up to limit endpoints that are
	// due within withinMs and not paused/locked, setting each one's
	// pessimistic lock deadline from its own maxExecutionTimeMs (floored
	// at 60s, spec.md §4.2 step 1), and returns the claimed endpoints.
	ClaimDueEndpoints(ctx context.Context, limit int, withinMs int64) ([]*domain.Endpoint, error)

	SetLock(ctx context.Context, endpointID string, until time.Time) error
	ClearLock(ctx context.Context, endpointID string) error

	// SetNextRunAtIfEarlier nudges NextRunAt only if when is earlier than
	// the current value — used by write-tools (spec.md §4.5) that want
	// their hint to take effect at the next tick without racing a
	// concurrent governor advance.
	SetNextRunAtIfEarlier(ctx context.Context, endpointID string, when time.Time) error

	// UpdateAfterRun applies the spec.md §4.2.1 state advance atomically
	// in the same transaction as the run Finish that produced outcome.
	UpdateAfterRun(ctx context.Context, endpointID string, now time.Time, next governor.Decision, outcome RunOutcome) error

	WriteAIHint(ctx context.Context, endpointID string, hint AIHint) error
	ClearAIHints(ctx context.Context, endpointID string, reason string) error
	SetPausedUntil(ctx context.Context, endpointID string, until *time.Time, reason string) error
	ResetFailureCount(ctx context.Context, endpointID string) error

	GetUsage(ctx context.Context, userID string, since time.Time) (Usage, error)
}

// RunOutcome is the minimal shape UpdateAfterRun needs to know about the
// run that just finished, decoupled from domain.Run so callers don't have
// to construct a full run just to advance endpoint state.
type RunOutcome struct {
	Status domain.RunStatus
}

// AIHint is the write-tool payload for a hint mutation (spec.md §4.5).
// Each write replaces the entire hint quadruple (open question, default
// chosen per spec.md §9).
type AIHint struct {
	IntervalMs *int64
	NextRunAt  *time.Time
	ExpiresAt  time.Time
	Reason     *string
}

// Usage is the aggregate used by quota accounting (spec.md §4.6).
type Usage struct {
	TokensUsed int64
}
