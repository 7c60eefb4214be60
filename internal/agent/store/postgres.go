package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"authed/internal/agent/models"
	id "authed/pkg/domain"
	"authed/pkg/platform/sentinel"
)

// Postgres implements the agent store on lib/pq. Permissions live in their
// own table and are replaced atomically inside a transaction.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

func (s *Postgres) Create(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (id, provider_id, name, dpop_public_key, secret_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(agent.ID),
		uuid.UUID(agent.ProviderID),
		agent.Name,
		agent.DPoPPublicKey,
		agent.SecretHash,
		agent.Active,
		agent.CreatedAt,
		agent.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, agent *models.Agent) error {
	query := `
		UPDATE agents
		SET name = $2, dpop_public_key = $3, active = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(agent.ID),
		agent.Name,
		agent.DPoPPublicKey,
		agent.Active,
		agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, agentID id.AgentID) (*models.Agent, error) {
	query := agentColumns + ` WHERE id = $1`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, uuid.UUID(agentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadPermissions(ctx, []*models.Agent{agent}); err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *Postgres) ListByProvider(ctx context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*models.Agent, int, error) {
	where := ` WHERE provider_id = $1`
	if !includeInactive {
		where += ` AND active`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`+where, uuid.UUID(providerID)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}

	if limit <= 0 {
		limit = total
	}
	query := agentColumns + where + ` ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(providerID), limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate agents: %w", err)
	}
	if err := s.loadPermissions(ctx, agents); err != nil {
		return nil, 0, err
	}
	return agents, total, nil
}

func (s *Postgres) CountByProvider(ctx context.Context, providerID id.ProviderID) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE provider_id = $1`, uuid.UUID(providerID)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return total, nil
}

func (s *Postgres) ReplacePermissions(ctx context.Context, agentID id.AgentID, permissions []models.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin permissions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1)`, uuid.UUID(agentID)).Scan(&exists); err != nil {
		return fmt.Errorf("check agent exists: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_permissions WHERE agent_id = $1`, uuid.UUID(agentID)); err != nil {
		return fmt.Errorf("clear permissions: %w", err)
	}
	now := time.Now()
	for _, p := range permissions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agent_permissions (agent_id, type, target_id, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.UUID(agentID), string(p.Type), p.TargetID, now,
		)
		if err != nil {
			return fmt.Errorf("insert permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit permissions: %w", err)
	}
	return nil
}

const agentColumns = `
	SELECT id, provider_id, name, dpop_public_key, secret_hash, active, created_at, updated_at
	FROM agents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		agent         models.Agent
		rawID         uuid.UUID
		rawProviderID uuid.UUID
	)
	err := row.Scan(&rawID, &rawProviderID, &agent.Name, &agent.DPoPPublicKey,
		&agent.SecretHash, &agent.Active, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	agent.ID = id.AgentID(rawID)
	agent.ProviderID = id.ProviderID(rawProviderID)
	return &agent, nil
}

func (s *Postgres) loadPermissions(ctx context.Context, agents []*models.Agent) error {
	if len(agents) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(agents))
	byID := make(map[id.AgentID]*models.Agent, len(agents))
	for i, agent := range agents {
		ids[i] = uuid.UUID(agent.ID)
		byID[agent.ID] = agent
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, type, target_id FROM agent_permissions WHERE agent_id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawAgentID uuid.UUID
			permType   string
			targetID   uuid.UUID
		)
		if err := rows.Scan(&rawAgentID, &permType, &targetID); err != nil {
			return fmt.Errorf("scan permission: %w", err)
		}
		agent := byID[id.AgentID(rawAgentID)]
		if agent == nil {
			continue
		}
		agent.Permissions = append(agent.Permissions, models.Permission{
			Type:     models.PermissionType(permType),
			TargetID: targetID.String(),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate permissions: %w", err)
	}
	return nil
}
