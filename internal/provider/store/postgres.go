package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"authed/internal/provider/models"
	id "authed/pkg/domain"
	"authed/pkg/platform/sentinel"
)

// Postgres implements the provider store on lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

func (s *Postgres) Create(ctx context.Context, provider *models.Provider) error {
	query := `
		INSERT INTO providers (id, name, contact_email, registered_user_id, secret_hash, claimed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(provider.ID),
		nullable(provider.Name),
		nullable(provider.ContactEmail),
		nullable(provider.RegisteredUserID),
		provider.SecretFingerprint,
		provider.Claimed,
		provider.CreatedAt,
		provider.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, provider *models.Provider) error {
	query := `
		UPDATE providers
		SET name = $2, contact_email = $3, registered_user_id = $4, claimed = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(provider.ID),
		nullable(provider.Name),
		nullable(provider.ContactEmail),
		nullable(provider.RegisteredUserID),
		provider.Claimed,
		provider.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update provider rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, providerID id.ProviderID) (*models.Provider, error) {
	query := providerColumns + ` WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(providerID)))
}

func (s *Postgres) FindBySecretFingerprint(ctx context.Context, fingerprint string) (*models.Provider, error) {
	query := providerColumns + ` WHERE secret_hash = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, fingerprint))
}

func (s *Postgres) List(ctx context.Context, filter models.ListFilter) ([]*models.Provider, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	next := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.Name != "" {
		where += " AND name ILIKE " + next("%"+filter.Name+"%")
	}
	if filter.FromDate != nil {
		where += " AND created_at >= " + next(*filter.FromDate)
	}
	if filter.ToDate != nil {
		where += " AND created_at <= " + next(*filter.ToDate)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count providers: %w", err)
	}

	query := providerColumns + where +
		" ORDER BY created_at DESC LIMIT " + next(filter.Limit) + " OFFSET " + next(filter.Skip)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		providers = append(providers, provider)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate providers: %w", err)
	}
	return providers, total, nil
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&total); err != nil {
		return 0, fmt.Errorf("count providers: %w", err)
	}
	return total, nil
}

const providerColumns = `
	SELECT id, name, contact_email, registered_user_id, secret_hash, claimed, created_at, updated_at
	FROM providers`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Postgres) scanOne(row rowScanner) (*models.Provider, error) {
	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return provider, err
}

func scanProvider(row rowScanner) (*models.Provider, error) {
	var (
		provider         models.Provider
		rawID            uuid.UUID
		name             sql.NullString
		contactEmail     sql.NullString
		registeredUserID sql.NullString
	)
	err := row.Scan(&rawID, &name, &contactEmail, &registeredUserID,
		&provider.SecretFingerprint, &provider.Claimed, &provider.CreatedAt, &provider.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	provider.ID = id.ProviderID(rawID)
	provider.Name = name.String
	provider.ContactEmail = contactEmail.String
	provider.RegisteredUserID = registeredUserID.String
	return &provider, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
