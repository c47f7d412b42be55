package auth

import (
	"context"
	"time"
)

// TokenBlacklist stores revoked token IDs until their natural expiry.
type TokenBlacklist interface {
	// Add blacklists jti; the entry may be dropped once the token's
	// original expiry time has passed.
	Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error
	// IsBlacklisted reports whether jti has been revoked.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}
