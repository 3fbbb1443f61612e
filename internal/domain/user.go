package domain

import "errors"

var ErrUserNotFound = errors.New("user not found")

// Tier selects a tenant's monthly AI token quota and endpoint/run caps.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// User is a tenant. TenantID on Endpoint/Run/Session/Job is this ID.
type User struct {
	ID    string
	Email string
	Tier  Tier
}
