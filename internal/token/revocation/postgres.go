package revocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Postgres implements the revocation list on the token_revocations table.
// Expired rows are pruned opportunistically on writes.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_revocations (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		jti, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM token_revocations WHERE expires_at < NOW()`)
	return nil
}

func (s *Postgres) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_revocations WHERE jti = $1 AND expires_at >= NOW())`,
		jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return revoked, nil
}
