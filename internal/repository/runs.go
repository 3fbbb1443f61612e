package repository

import (
	"context"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
)

// ListRunsInput filters RunsRepo.ListRuns.
type ListRunsInput struct {
	EndpointID string
	Status     domain.RunStatus // zero value means "any"
	CursorTime *time.Time       // keyset cursor on (started_at DESC, id DESC)
	CursorID   string
	Limit      int
}

// CreateRunInput is the shape RunsRepo.Create accepts — a run always
// starts in RunRunning, per spec.md §3.
type CreateRunInput struct {
	EndpointID string
	Attempt    int
	Source     domain.Source
}

// FinishRunInput is the terminal outcome RunsRepo.Finish persists.
type FinishRunInput struct {
	Status       domain.RunStatus
	DurationMs   int64
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
}

// HealthSummary is the 24h rollup the AI planner uses to build its prompt
// (spec.md §4.4.1 step 2).
type HealthSummary struct {
	SuccessCount   int
	FailureCount   int
	AvgDurationMs  float64
	LastRun        *time.Time
	FailureStreak  int
}

// ResponseHistoryPage is one page of get_response_history results
// (spec.md §4.5).
type ResponseHistoryPage struct {
	Runs       []*domain.Run
	TotalCount int
}

// SiblingResponse is one entry of get_sibling_latest_responses.
type SiblingResponse struct {
	EndpointID      string
	EndpointName    string
	LatestResponse  *string
	NextRunAt       time.Time
	HasActiveHint   bool
}

// RunsRepo is the contract over execution attempts.
type RunsRepo interface {
	Create(ctx context.Context, in CreateRunInput) (*domain.Run, error)
	Finish(ctx context.Context, runID string, in FinishRunInput) error
	ListRuns(ctx context.Context, input ListRunsInput) ([]*domain.Run, error)
	GetRunDetails(ctx context.Context, runID string) (*domain.Run, error)

	GetHealthSummary(ctx context.Context, endpointID string, since time.Time) (HealthSummary, error)

	// GetEndpointsWithRecentRuns returns the IDs of endpoints that executed
	// on or after since — the AI planner's discovery query (spec.md §4.4
	// step 1).
	GetEndpointsWithRecentRuns(ctx context.Context, since time.Time) ([]string, error)

	GetLatestResponse(ctx context.Context, endpointID string) (*domain.Run, error)
	GetResponseHistory(ctx context.Context, endpointID string, limit, offset int) (ResponseHistoryPage, error)
	GetSiblingLatestResponses(ctx context.Context, jobID, excludeEndpointID string) ([]SiblingResponse, error)

	// CleanupZombieRuns marks runs stuck in RunRunning past olderThanMs as
	// failed and returns how many were reaped (spec.md §4.2.2).
	CleanupZombieRuns(ctx context.Context, olderThanMs int64) (int, error)
}
