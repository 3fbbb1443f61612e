package repository

import (
	"context"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
)

// SessionsRepo is the contract over AI analysis sessions.
type SessionsRepo interface {
	Create(ctx context.Context, s *domain.Session) (*domain.Session, error)
	GetLastSession(ctx context.Context, endpointID string) (*domain.Session, error)
	GetRecentSessions(ctx context.Context, endpointID string, limit, offset int) ([]*domain.Session, error)
	GetTotalTokenUsage(ctx context.Context, endpointID string, since time.Time) (int64, error)
}
