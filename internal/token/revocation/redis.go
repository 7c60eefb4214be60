package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisPrefix = "token:revoked:"

// Redis implements the revocation list on Redis with per-entry TTLs, so
// entries expire together with the tokens they revoke.
type Redis struct {
	client *goredis.Client
}

func NewRedis(client *goredis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; nothing to revoke.
		return nil
	}
	if err := s.client.Set(ctx, redisPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, redisPrefix+jti).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return true, nil
}
