package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/google/uuid"
)

// Runs adapts Store to repository.RunsRepo. It is a distinct type from
// Store (rather than more methods on Store directly) because RunsRepo and
// SessionsRepo both declare a Create method with different signatures —
// Go methods are keyed by receiver type, so the two contracts need
// separate wrapper types over the same backing maps.
type Runs struct{ *Store }

// NewRuns returns a RunsRepo view over store.
func NewRuns(store *Store) *Runs { return &Runs{store} }

// --- RunsRepo ------------------------------------------------------------

func (s *Runs) Create(_ context.Context, in repository.CreateRunInput) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &domain.Run{
		ID:         uuid.NewString(),
		EndpointID: in.EndpointID,
		Attempt:    in.Attempt,
		Source:     in.Source,
		StartedAt:  time.Now(),
		Status:     domain.RunRunning,
	}
	s.runs[run.ID] = run
	out := *run
	return &out, nil
}

func (s *Runs) Finish(_ context.Context, runID string, in repository.FinishRunInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	return run.Finish(time.Now(), in.Status, in.DurationMs, in.StatusCode, in.ResponseBody, in.ErrorMessage, nil)
}

func (s *Runs) ListRuns(_ context.Context, input repository.ListRunsInput) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Run
	for _, r := range s.runs {
		if r.EndpointID != input.EndpointID {
			continue
		}
		if input.Status != "" && r.Status != input.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Runs) GetRunDetails(_ context.Context, runID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	out := *r
	return &out, nil
}

func (s *Runs) GetHealthSummary(_ context.Context, endpointID string, since time.Time) (repository.HealthSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matching []*domain.Run
	for _, r := range s.runs {
		if r.EndpointID != endpointID || r.StartedAt.Before(since) {
			continue
		}
		matching = append(matching, r)
	}
	sort.Slice(matching, func(i, k int) bool { return matching[i].StartedAt.After(matching[k].StartedAt) })

	var summary repository.HealthSummary
	var durationSum int64
	var durationCount int
	for _, r := range matching {
		switch r.Status {
		case domain.RunSuccess:
			summary.SuccessCount++
		case domain.RunFailed, domain.RunCanceled:
			summary.FailureCount++
		}
		if r.DurationMs != nil {
			durationSum += *r.DurationMs
			durationCount++
		}
	}
	if durationCount > 0 {
		summary.AvgDurationMs = float64(durationSum) / float64(durationCount)
	}
	if len(matching) > 0 {
		t := matching[0].StartedAt
		summary.LastRun = &t
	}
	for _, r := range matching {
		if r.Status == domain.RunSuccess {
			break
		}
		if r.Status == domain.RunFailed || r.Status == domain.RunCanceled {
			summary.FailureStreak++
		}
	}
	return summary, nil
}

func (s *Runs) GetEndpointsWithRecentRuns(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.runs {
		if r.StartedAt.Before(since) || seen[r.EndpointID] {
			continue
		}
		seen[r.EndpointID] = true
		out = append(out, r.EndpointID)
	}
	return out, nil
}

func (s *Runs) GetLatestResponse(_ context.Context, endpointID string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Run
	for _, r := range s.runs {
		if r.EndpointID != endpointID || r.FinishedAt == nil {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (s *Runs) GetResponseHistory(_ context.Context, endpointID string, limit, offset int) (repository.ResponseHistoryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matching []*domain.Run
	for _, r := range s.runs {
		if r.EndpointID != endpointID || r.FinishedAt == nil {
			continue
		}
		matching = append(matching, r)
	}
	sort.Slice(matching, func(i, k int) bool { return matching[i].StartedAt.After(matching[k].StartedAt) })

	total := len(matching)
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	if offset > len(matching) {
		offset = len(matching)
	}
	end := offset + limit
	if end > len(matching) {
		end = len(matching)
	}
	page := matching[offset:end]

	out := make([]*domain.Run, 0, len(page))
	for _, r := range page {
		cp := *r
		if cp.ResponseBody != nil && len(*cp.ResponseBody) > 1000 {
			truncated := (*cp.ResponseBody)[:1000]
			cp.ResponseBody = &truncated
		}
		out = append(out, &cp)
	}
	return repository.ResponseHistoryPage{Runs: out, TotalCount: total}, nil
}

func (s *Runs) GetSiblingLatestResponses(_ context.Context, jobID, excludeEndpointID string) ([]repository.SiblingResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.SiblingResponse
	for _, e := range s.endpoints {
		if e.JobID == nil || *e.JobID != jobID || e.ID == excludeEndpointID {
			continue
		}
		sib := repository.SiblingResponse{
			EndpointID:    e.ID,
			EndpointName:  e.Name,
			NextRunAt:     e.NextRunAt,
			HasActiveHint: e.HasFreshHint(time.Now()),
		}
		var latest *domain.Run
		for _, r := range s.runs {
			if r.EndpointID != e.ID || r.FinishedAt == nil {
				continue
			}
			if latest == nil || r.StartedAt.After(latest.StartedAt) {
				latest = r
			}
		}
		if latest != nil {
			sib.LatestResponse = latest.ResponseBody
		}
		out = append(out, sib)
	}
	return out, nil
}

func (s *Runs) CleanupZombieRuns(_ context.Context, olderThanMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(olderThanMs) * time.Millisecond)
	n := 0
	for _, r := range s.runs {
		if r.Status != domain.RunRunning || r.StartedAt.After(cutoff) {
			continue
		}
		now := time.Now()
		msg := "zombie run: exceeded threshold without finishing"
		duration := now.Sub(r.StartedAt).Milliseconds()
		r.FinishedAt = &now
		r.DurationMs = &duration
		r.Status = domain.RunFailed
		r.ErrorMessage = &msg
		n++
	}
	return n, nil
}
