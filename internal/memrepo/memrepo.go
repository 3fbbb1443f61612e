// Package memrepo is the in-memory repository fixture spec.md §9 calls
// for: "an in-memory fixture is required for testing the scheduler and
// governor without a database." It implements every repository contract
// with plain maps guarded by a mutex — no SQL, no transactions, just
// enough semantics (claim exclusivity, single-transaction advance) to
// exercise the scheduler and planner workers deterministically in tests.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/governor"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/google/uuid"
)

// Store is a single in-memory backing for all repository interfaces —
// endpoints, jobs, runs, and sessions share one mutex so ClaimDueEndpoints
// and UpdateAfterRun can be tested for the same exclusivity guarantees the
// SQL implementation provides via FOR UPDATE SKIP LOCKED / transactions.
//
// Store itself satisfies repository.JobsRepo, repository.UsersRepo, and
// repository.QuotaGuard directly. repository.RunsRepo and
// repository.SessionsRepo are exposed through the Runs and Sessions
// wrapper types (NewRuns, NewSessions) over the same Store.
type Store struct {
	mu sync.Mutex

	jobs      map[string]*domain.Job
	endpoints map[string]*domain.Endpoint
	runs      map[string]*domain.Run
	sessions  map[string]*domain.Session
	users     map[string]*domain.User
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*domain.Job),
		endpoints: make(map[string]*domain.Endpoint),
		runs:      make(map[string]*domain.Run),
		sessions:  make(map[string]*domain.Session),
		users:     make(map[string]*domain.User),
	}
}

// PutUser seeds a tenant directly — a test convenience, not part of any
// repository contract.
func (s *Store) PutUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutEndpoint seeds or overwrites an endpoint directly.
func (s *Store) PutEndpoint(e *domain.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.endpoints[e.ID] = &cp
}

// --- JobsRepo --------------------------------------------------------

func (s *Store) CreateJob(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.jobs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetJob(_ context.Context, id, userID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	out := *j
	return &out, nil
}

func (s *Store) GetJobByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	out := *j
	return &out, nil
}

func (s *Store) ListJobs(_ context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.UserID != input.UserID {
			continue
		}
		if input.Status != "" && j.Status != input.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateJob(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.jobs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ArchiveJob(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return domain.ErrJobNotFound
	}
	j.Status = domain.JobArchived
	j.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AddEndpoint(_ context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.endpoints[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) UpdateEndpoint(_ context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.endpoints[e.ID]
	if !ok {
		return nil, domain.ErrEndpointNotFound
	}
	cp := *e
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.endpoints[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetEndpoint(_ context.Context, id, userID string) (*domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok || e.TenantID != userID {
		return nil, domain.ErrEndpointNotFound
	}
	out := *e
	return &out, nil
}

func (s *Store) GetEndpointByID(_ context.Context, id string) (*domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return nil, domain.ErrEndpointNotFound
	}
	out := *e
	return &out, nil
}

func (s *Store) ListEndpointsByJob(_ context.Context, jobID, userID string) ([]*domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Endpoint
	for _, e := range s.endpoints {
		if e.JobID == nil || *e.JobID != jobID || e.TenantID != userID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) DeleteEndpoint(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok || e.TenantID != userID {
		return domain.ErrEndpointNotFound
	}
	delete(s.endpoints, id)
	return nil
}

// ClaimDueEndpoints mirrors the SQL claim query's predicate and sets
// LockedUntil atomically under the store mutex — the in-memory analogue
// of FOR UPDATE SKIP LOCKED.
// defaultLockDurationMs mirrors the postgres implementation's floor:
// each claimed endpoint's lock deadline is its own maxExecutionTimeMs,
// floored at 60s (spec.md §4.2 step 1), not one duration for the batch.
const defaultLockDurationMs = 60_000

func (s *Store) ClaimDueEndpoints(_ context.Context, limit int, withinMs int64) ([]*domain.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	horizon := now.Add(time.Duration(withinMs) * time.Millisecond)

	var candidates []*domain.Endpoint
	for _, e := range s.endpoints {
		if e.NextRunAt.After(horizon) {
			continue
		}
		if e.PausedUntil != nil && e.PausedUntil.After(now) {
			continue
		}
		if e.LockedUntil != nil && e.LockedUntil.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].NextRunAt.Before(candidates[k].NextRunAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*domain.Endpoint, 0, len(candidates))
	for _, e := range candidates {
		lockMs := int64(defaultLockDurationMs)
		if e.MaxExecutionTimeMs != nil && *e.MaxExecutionTimeMs > lockMs {
			lockMs = *e.MaxExecutionTimeMs
		}
		lockUntil := now.Add(time.Duration(lockMs) * time.Millisecond)
		e.LockedUntil = &lockUntil
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SetLock(_ context.Context, endpointID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	e.LockedUntil = &until
	return nil
}

func (s *Store) ClearLock(_ context.Context, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	e.LockedUntil = nil
	return nil
}

func (s *Store) SetNextRunAtIfEarlier(_ context.Context, endpointID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	if when.Before(e.NextRunAt) {
		e.NextRunAt = when
	}
	return nil
}

func (s *Store) UpdateAfterRun(_ context.Context, endpointID string, now time.Time, next governor.Decision, outcome repository.RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}

	e.LastRunAt = &now
	if outcome.Status == domain.RunSuccess {
		e.FailureCount = 0
	} else {
		e.FailureCount++
	}
	e.NextRunAt = next.NextRunAt
	e.LockedUntil = nil

	if e.AIHintExpiresAt != nil && !e.AIHintExpiresAt.After(now) {
		e.AIHintIntervalMs = nil
		e.AIHintNextRunAt = nil
		e.AIHintExpiresAt = nil
		e.AIHintReason = nil
	}
	e.UpdatedAt = now
	return nil
}

func (s *Store) WriteAIHint(_ context.Context, endpointID string, hint repository.AIHint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	e.AIHintIntervalMs = hint.IntervalMs
	e.AIHintNextRunAt = hint.NextRunAt
	expires := hint.ExpiresAt
	e.AIHintExpiresAt = &expires
	e.AIHintReason = hint.Reason
	return nil
}

func (s *Store) ClearAIHints(_ context.Context, endpointID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	e.AIHintIntervalMs = nil
	e.AIHintNextRunAt = nil
	e.AIHintExpiresAt = nil
	if reason != "" {
		e.AIHintReason = &reason
	} else {
		e.AIHintReason = nil
	}
	return nil
}

func (s *Store) SetPausedUntil(_ context.Context, endpointID string, until *time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	e.PausedUntil = until
	if reason != "" {
		e.AIHintReason = &reason
	}
	return nil
}

func (s *Store) ResetFailureCount(_ context.Context, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	e.FailureCount = 0
	return nil
}

func (s *Store) GetUsage(_ context.Context, userID string, since time.Time) (repository.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, sess := range s.sessions {
		e, ok := s.endpoints[sess.EndpointID]
		if !ok || e.TenantID != userID {
			continue
		}
		if sess.AnalyzedAt.Before(since) {
			continue
		}
		if sess.TokenUsage != nil {
			total += *sess.TokenUsage
		}
	}
	return repository.Usage{TokensUsed: total}, nil
}

// --- UsersRepo ---------------------------------------------------------

func (s *Store) FindByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

// --- QuotaGuard ----------------------------------------------------------

func (s *Store) CanProceed(ctx context.Context, userID string) (bool, error) {
	u, err := s.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lookup user for quota check: %w", err)
	}
	limit, ok := repository.TierLimits[string(u.Tier)]
	if !ok {
		return false, nil
	}
	since := time.Date(time.Now().UTC().Year(), time.Now().UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	usage, err := s.GetUsage(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return usage.TokensUsed < limit, nil
}

func (s *Store) RecordUsage(_ context.Context, _ string, _ int64) error {
	return nil
}
