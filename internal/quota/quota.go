// Package quota implements the per-tenant monthly AI token budget
// (spec.md §4.6). CanProceed's cache-aside shape — check Redis, fall back
// to the database sum on miss, write-through on miss — is grounded in
// night-slayer18-skeenode's RedisQueue (pkg/storage/redis/queue_store.go):
// same *redis.Client field, same ctx-first method shape, same
// fmt.Errorf("...: %w") wrapping.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/redis/go-redis/v9"
)

// Guard is the SQL+Redis-backed implementation of repository.QuotaGuard.
type Guard struct {
	jobs  repository.JobsRepo
	users repository.UsersRepo
	redis *redis.Client
	ttl   time.Duration
	clock clock.Clock
}

// New returns a Guard. redisClient may be nil, in which case every check
// falls through to the database — useful for tests and for deployments
// that haven't wired a cache yet. clk is the injected time source (spec.md
// §5) so the UTC-month boundary can be pinned in tests.
func New(jobs repository.JobsRepo, users repository.UsersRepo, redisClient *redis.Client, clk clock.Clock) *Guard {
	return &Guard{jobs: jobs, users: users, redis: redisClient, ttl: time.Minute, clock: clk}
}

// CanProceed sums sessions.tokenUsage for userID's endpoints since the
// start of the current UTC month and compares against TierLimits[tier].
// Unknown tier strings fail closed (spec.md §4.6).
func (g *Guard) CanProceed(ctx context.Context, userID string) (bool, error) {
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lookup user for quota check: %w", err)
	}

	limit, ok := repository.TierLimits[string(user.Tier)]
	if !ok {
		return false, nil
	}

	since := startOfCurrentUTCMonth(g.clock.Now())

	used, err := g.usage(ctx, userID, since)
	if err != nil {
		return false, err
	}

	return used < limit, nil
}

// RecordUsage is a no-op: usage is derived entirely from sessions.tokenUsage
// (spec.md §6 QuotaGuard doc), but a write invalidates the cache entry so
// the next CanProceed call reflects it immediately.
func (g *Guard) RecordUsage(ctx context.Context, userID string, _ int64) error {
	if g.redis == nil {
		return nil
	}
	if err := g.redis.Del(ctx, cacheKey(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate quota cache: %w", err)
	}
	return nil
}

func (g *Guard) usage(ctx context.Context, userID string, since time.Time) (int64, error) {
	if g.redis != nil {
		if cached, err := g.redis.Get(ctx, cacheKey(userID)).Int64(); err == nil {
			return cached, nil
		} else if !errors.Is(err, redis.Nil) {
			// Transient cache error — fall through to the database rather
			// than fail the quota check (spec.md §7 "transient I/O").
			_ = err
		}
	}

	usage, err := g.jobs.GetUsage(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}

	if g.redis != nil {
		_ = g.redis.Set(ctx, cacheKey(userID), usage.TokensUsed, g.ttl).Err()
	}
	return usage.TokensUsed, nil
}

func cacheKey(userID string) string {
	return "cronicorn:quota:usage:" + userID
}

// startOfCurrentUTCMonth returns UTC midnight of the first day of now's month.
func startOfCurrentUTCMonth(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
