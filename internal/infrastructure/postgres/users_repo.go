package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsersRepository is a trimmed descendant of the teacher's UserRepository:
// the magic-link auth methods (CreateMagicToken, ClaimMagicToken) served
// the out-of-scope HTTP API's login flow and were dropped (see DESIGN.md);
// FindByID survives because quota accounting needs the tenant's tier.
type UsersRepository struct {
	pool *pgxpool.Pool
}

func NewUsersRepository(pool *pgxpool.Pool) *UsersRepository {
	return &UsersRepository{pool: pool}
}

func (r *UsersRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `SELECT id, email, tier FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}
