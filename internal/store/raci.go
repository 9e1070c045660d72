package store

import (
	"context"
	"fmt"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/jackc/pgx/v5"
)

// --- RACI assignments ---

func (s *PostgresStore) ListAssignments(ctx context.Context, projectID int64) ([]models.RACIAssignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, agent_id, raci_role FROM project_assignments
		 WHERE project_id = $1 ORDER BY assigned_at, document_id, agent_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []models.RACIAssignment
	for rows.Next() {
		var (
			a    models.RACIAssignment
			role string
		)
		if err := rows.Scan(&a.DocumentID, &a.AgentID, &role); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Role = models.RACIRole(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAssignments writes every assignment in one transaction. An existing
// row for the same document and agent takes the new role.
func (s *PostgresStore) UpsertAssignments(ctx context.Context, projectID int64, assignments []models.RACIAssignment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin assignments: %w", err)
	}
	defer rollback(ctx, tx)

	batch := &pgx.Batch{}
	for _, a := range assignments {
		batch.Queue(
			`INSERT INTO project_assignments (project_id, document_id, agent_id, raci_role, assigned_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 ON CONFLICT (project_id, document_id, agent_id) DO UPDATE SET
			   raci_role = EXCLUDED.raci_role,
			   updated_at = NOW()`,
			projectID, a.DocumentID, a.AgentID, string(a.Role))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert assignments: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit assignments: %w", err)
	}
	return nil
}
