package repository

import "context"

// QuotaGuard enforces the per-tenant monthly AI token budget (spec.md §4.6).
type QuotaGuard interface {
	CanProceed(ctx context.Context, userID string) (bool, error)
	// RecordUsage may be a no-op when usage is derived entirely from
	// sessions.tokenUsage, as it is in the SQL-backed implementation here.
	RecordUsage(ctx context.Context, userID string, tokens int64) error
}

// TierLimits are the per-tier monthly AI token caps (spec.md §4.6).
var TierLimits = map[string]int64{
	"free":       100_000,
	"pro":        1_000_000,
	"enterprise": 10_000_000,
}
