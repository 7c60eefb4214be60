// Package revocation tracks revoked interaction token IDs until the tokens
// would have expired on their own. Redis backs multi-replica deployments;
// Postgres gives durability without Redis; memory serves development.
package revocation

import (
	"context"
	"time"
)

// Store is a token revocation list keyed by jti.
type Store interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
