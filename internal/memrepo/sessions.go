package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/google/uuid"
)

// Sessions adapts Store to repository.SessionsRepo. See Runs for why this
// needs to be a distinct type rather than more methods on Store.
type Sessions struct{ *Store }

// NewSessions returns a SessionsRepo view over store.
func NewSessions(store *Store) *Sessions { return &Sessions{store} }

// --- SessionsRepo ----------------------------------------------------------

func (s *Sessions) Create(_ context.Context, session *domain.Session) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.AnalyzedAt.IsZero() {
		cp.AnalyzedAt = time.Now()
	}
	s.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Sessions) sessionsByEndpoint(endpointID string) []*domain.Session {
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.EndpointID == endpointID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].AnalyzedAt.After(out[k].AnalyzedAt) })
	return out
}

func (s *Sessions) GetLastSession(_ context.Context, endpointID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sessionsByEndpoint(endpointID)
	if len(all) == 0 {
		return nil, nil
	}
	out := *all[0]
	return &out, nil
}

func (s *Sessions) GetRecentSessions(_ context.Context, endpointID string, limit, offset int) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sessionsByEndpoint(endpointID)
	if limit <= 0 {
		limit = 20
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]
	out := make([]*domain.Session, 0, len(page))
	for _, sess := range page {
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Sessions) GetTotalTokenUsage(_ context.Context, endpointID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, sess := range s.sessions {
		if sess.EndpointID != endpointID || sess.AnalyzedAt.Before(since) {
			continue
		}
		if sess.TokenUsage != nil {
			total += *sess.TokenUsage
		}
	}
	return total, nil
}
