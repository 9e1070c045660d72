package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- State reads ---

func (s *PostgresStore) SquadStatus(ctx context.Context, id uuid.UUID) (string, error) {
	return s.status(ctx, `SELECT status FROM squads WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (s *PostgresStore) ProjectStatus(ctx context.Context, id int64) (string, error) {
	return s.status(ctx, `SELECT status FROM projects WHERE id = $1`, id)
}

func (s *PostgresStore) AttachmentStatus(ctx context.Context, squadID uuid.UUID, projectID int64) (string, error) {
	return s.status(ctx, `SELECT status FROM project_squads WHERE squad_id = $1 AND project_id = $2`, squadID, projectID)
}

func (s *PostgresStore) status(ctx context.Context, query string, args ...any) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

// --- Squads ---

const squadColumns = `id, name, slug, mission, domain, status, created_by, created_at, updated_at, deleted_at`

func scanSquad(row pgx.Row) (*models.Squad, error) {
	var sq models.Squad
	err := row.Scan(&sq.ID, &sq.Name, &sq.Slug, &sq.Mission, &sq.Domain, &sq.Status,
		&sq.CreatedBy, &sq.CreatedAt, &sq.UpdatedAt, &sq.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sq, nil
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM squads WHERE slug = $1 AND deleted_at IS NULL)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateSquad(ctx context.Context, sq *models.Squad) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO squads (id, name, slug, mission, domain, status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sq.ID, sq.Name, sq.Slug, sq.Mission, sq.Domain, sq.Status, sq.CreatedBy, sq.CreatedAt, sq.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create squad: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSquad(ctx context.Context, id uuid.UUID) (*models.Squad, error) {
	sq, err := scanSquad(s.pool.QueryRow(ctx,
		`SELECT `+squadColumns+` FROM squads WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get squad: %w", err)
	}
	return sq, err
}

// UpdateSquad applies upd. Archiving detaches every active attachment of the
// squad in the same transaction.
func (s *PostgresStore) UpdateSquad(ctx context.Context, id uuid.UUID, upd SquadUpdate) (*models.Squad, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin squad update: %w", err)
	}
	defer rollback(ctx, tx)

	sq, err := scanSquad(tx.QueryRow(ctx,
		`UPDATE squads SET
		   name = COALESCE($2, name),
		   mission = COALESCE($3, mission),
		   domain = COALESCE($4, domain),
		   status = COALESCE($5, status),
		   updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+squadColumns,
		id, upd.Name, upd.Mission, upd.Domain, upd.Status))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update squad: %w", err)
	}

	if upd.Status != nil && *upd.Status == models.SquadStatusArchived {
		if _, err := tx.Exec(ctx,
			`UPDATE project_squads SET status = 'detached', detached_at = NOW()
			 WHERE squad_id = $1 AND status = 'active'`, id); err != nil {
			return nil, fmt.Errorf("detach archived squad: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit squad update: %w", err)
	}
	return sq, nil
}

func (s *PostgresStore) SoftDeleteSquad(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE squads SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete squad: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountSquadActivity(ctx context.Context, id uuid.UUID) (SquadActivity, error) {
	var act SquadActivity
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM project_squads WHERE squad_id = $1 AND status = 'active'),
		   (SELECT COUNT(*) FROM squad_instructions WHERE squad_id = $1 AND status IN `+openInstructionStatuses+`)`,
		id).Scan(&act.ActiveAttachments, &act.OpenInstructions)
	if err != nil {
		return act, fmt.Errorf("count squad activity: %w", err)
	}
	return act, nil
}

func (s *PostgresStore) ListActiveMembers(ctx context.Context, squadID uuid.UUID) ([]models.SquadMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sm.squad_id, sm.agent_id, a.name, sm.role, sm.specializations, sm.permissions, sm.status, sm.created_at
		 FROM squad_members sm
		 JOIN agents a ON a.id = sm.agent_id
		 WHERE sm.squad_id = $1 AND sm.status = 'active'
		 ORDER BY CASE sm.role WHEN 'lead' THEN 1 WHEN 'specialist' THEN 2 ELSE 3 END, sm.created_at`, squadID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []models.SquadMember
	for rows.Next() {
		var m models.SquadMember
		if err := rows.Scan(&m.SquadID, &m.AgentID, &m.AgentName, &m.Role, &m.Specializations,
			&m.Permissions, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAttachedProjects(ctx context.Context, squadID uuid.UUID) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, p.status, p.created_at
		 FROM project_squads ps
		 JOIN projects p ON p.id = ps.project_id
		 WHERE ps.squad_id = $1 AND ps.status = 'active'
		 ORDER BY ps.attached_at DESC`, squadID)
	if err != nil {
		return nil, fmt.Errorf("list attached projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetSquadPerformance aggregates instructions created in the last days days.
// SuccessRate is left for the caller to derive.
func (s *PostgresStore) GetSquadPerformance(ctx context.Context, squadID uuid.UUID, days int) (*models.SquadPerformance, error) {
	var p models.SquadPerformance
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*),
		   COUNT(*) FILTER (WHERE status = 'completed'),
		   COUNT(*) FILTER (WHERE status = 'failed'),
		   COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) / 3600)
		     FILTER (WHERE completed_at IS NOT NULL), 0)::float8
		 FROM squad_instructions
		 WHERE squad_id = $1 AND created_at >= NOW() - make_interval(days => $2::int)`,
		squadID, days).Scan(&p.InstructionsTotal, &p.InstructionsCompleted, &p.InstructionsFailed, &p.AvgCompletionHours)
	if err != nil {
		return nil, fmt.Errorf("squad performance: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DATE(completed_at)::text,
		   COUNT(*) FILTER (WHERE status = 'completed'),
		   COUNT(*) FILTER (WHERE status = 'failed')
		 FROM squad_instructions
		 WHERE squad_id = $1
		   AND completed_at >= NOW() - make_interval(days => $2::int)
		   AND status IN ('completed', 'failed')
		 GROUP BY DATE(completed_at)
		 ORDER BY DATE(completed_at) DESC
		 LIMIT 30`, squadID, days)
	if err != nil {
		return nil, fmt.Errorf("squad daily activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d models.DailyActivity
		if err := rows.Scan(&d.Date, &d.Completed, &d.Failed); err != nil {
			return nil, fmt.Errorf("scan daily activity: %w", err)
		}
		p.RecentActivity = append(p.RecentActivity, d)
	}
	return &p, rows.Err()
}

// --- Members ---

func (s *PostgresStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var a models.Agent
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM agents WHERE id = $1`, id).Scan(&a.ID, &a.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetMember(ctx context.Context, squadID, agentID uuid.UUID) (*models.SquadMember, error) {
	var m models.SquadMember
	err := s.pool.QueryRow(ctx,
		`SELECT squad_id, agent_id, role, specializations, permissions, status, created_at
		 FROM squad_members WHERE squad_id = $1 AND agent_id = $2`, squadID, agentID,
	).Scan(&m.SquadID, &m.AgentID, &m.Role, &m.Specializations, &m.Permissions, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) count(ctx context.Context, what, query string, args ...any) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", what, err)
	}
	return n, nil
}

func (s *PostgresStore) CountActiveMembers(ctx context.Context, squadID uuid.UUID) (int, error) {
	return s.count(ctx, "members",
		`SELECT COUNT(*) FROM squad_members WHERE squad_id = $1 AND status = 'active'`, squadID)
}

func (s *PostgresStore) CountActiveLeads(ctx context.Context, squadID uuid.UUID) (int, error) {
	return s.count(ctx, "leads",
		`SELECT COUNT(*) FROM squad_members WHERE squad_id = $1 AND status = 'active' AND role = 'lead'`, squadID)
}

// UpsertMember inserts a membership or reactivates an existing one with the new role.
func (s *PostgresStore) UpsertMember(ctx context.Context, m *models.SquadMember) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO squad_members (squad_id, agent_id, role, specializations, permissions, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'active', $6, $6)
		 ON CONFLICT (squad_id, agent_id) DO UPDATE SET
		   role = EXCLUDED.role,
		   specializations = EXCLUDED.specializations,
		   permissions = EXCLUDED.permissions,
		   status = 'active',
		   updated_at = NOW()`,
		m.SquadID, m.AgentID, m.Role, m.Specializations, m.Permissions, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateMember(ctx context.Context, squadID, agentID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE squad_members SET status = 'inactive', updated_at = NOW()
		 WHERE squad_id = $1 AND agent_id = $2`, squadID, agentID)
	if err != nil {
		return fmt.Errorf("deactivate member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountAgentActiveInstructions(ctx context.Context, squadID, agentID uuid.UUID) (int, error) {
	return s.count(ctx, "agent instructions",
		`SELECT COUNT(*) FROM squad_instructions
		 WHERE squad_id = $1 AND metadata->>'assigned_agent_id' = $2 AND status IN `+openInstructionStatuses,
		squadID, agentID.String())
}

// --- Attachments ---

func (s *PostgresStore) GetAttachment(ctx context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error) {
	var a models.ProjectSquadAttachment
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, squad_id, status, attached_by, attached_at, detached_at
		 FROM project_squads WHERE project_id = $1 AND squad_id = $2`, projectID, squadID,
	).Scan(&a.ProjectID, &a.SquadID, &a.Status, &a.AttachedBy, &a.AttachedAt, &a.DetachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CountActiveProjectSquads(ctx context.Context, projectID int64) (int, error) {
	return s.count(ctx, "project squads",
		`SELECT COUNT(*) FROM project_squads WHERE project_id = $1 AND status = 'active'`, projectID)
}

func (s *PostgresStore) CountActiveSquadProjects(ctx context.Context, squadID uuid.UUID) (int, error) {
	return s.count(ctx, "squad projects",
		`SELECT COUNT(*) FROM project_squads WHERE squad_id = $1 AND status = 'active'`, squadID)
}

func (s *PostgresStore) UpsertAttachment(ctx context.Context, a *models.ProjectSquadAttachment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_squads (project_id, squad_id, status, attached_by, attached_at)
		 VALUES ($1, $2, 'active', $3, $4)
		 ON CONFLICT (project_id, squad_id) DO UPDATE SET
		   status = 'active',
		   attached_by = EXCLUDED.attached_by,
		   attached_at = EXCLUDED.attached_at,
		   detached_at = NULL`,
		a.ProjectID, a.SquadID, a.AttachedBy, a.AttachedAt)
	if err != nil {
		return fmt.Errorf("upsert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DetachSquad(ctx context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error) {
	var a models.ProjectSquadAttachment
	err := s.pool.QueryRow(ctx,
		`UPDATE project_squads SET status = 'detached', detached_at = NOW()
		 WHERE project_id = $1 AND squad_id = $2
		 RETURNING project_id, squad_id, status, attached_by, attached_at, detached_at`, projectID, squadID,
	).Scan(&a.ProjectID, &a.SquadID, &a.Status, &a.AttachedBy, &a.AttachedAt, &a.DetachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("detach squad: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CountActiveInstructions(ctx context.Context, squadID uuid.UUID, projectID int64) (int, error) {
	return s.count(ctx, "pair instructions",
		`SELECT COUNT(*) FROM squad_instructions
		 WHERE squad_id = $1 AND project_id = $2 AND status IN `+openInstructionStatuses,
		squadID, projectID)
}

// --- Instructions ---

func (s *PostgresStore) CreateInstruction(ctx context.Context, in *models.SquadInstruction) error {
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO squad_instructions (id, squad_id, project_id, content, priority, status, metadata, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		in.ID, in.SquadID, in.ProjectID, in.Content, in.Priority, in.Status, metadata, in.CreatedBy, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("create instruction: %w", err)
	}
	return nil
}

// MarkInstructionQueued moves a pending instruction to queued and merges metadata.
func (s *PostgresStore) MarkInstructionQueued(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE squad_instructions
		 SET status = 'queued', metadata = metadata || $2::jsonb, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id, metadata)
	if err != nil {
		return fmt.Errorf("queue instruction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
