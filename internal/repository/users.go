package repository

import (
	"context"

	"github.com/cronicorn/cronicorn/internal/domain"
)

// UsersRepo is the minimal tenant lookup the quota guard and ownership
// checks need — adapted from the teacher's UserRepository, trimmed of the
// magic-link auth methods that belonged to the out-of-scope HTTP API
// (see DESIGN.md).
type UsersRepo interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}
