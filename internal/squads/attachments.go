package squads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

type AttachInput struct {
	ProjectID  int64     `json:"-"`
	SquadID    uuid.UUID `json:"squad_id"`
	AttachedBy string    `json:"-"`
}

// Attach links an active squad to an active project. A detached link is reactivated.
func (s *Service) Attach(ctx context.Context, in AttachInput) (*models.ProjectSquadAttachment, error) {
	if in.SquadID == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{"squad_id": "is required"}}
	}
	if r := s.state.ValidateProjectState(ctx, in.ProjectID); !r.Valid {
		return nil, projectStateErr(r)
	}
	if r := s.state.ValidateSquadState(ctx, in.SquadID); !r.Valid {
		return nil, squadStateErr(r)
	}

	existing, err := s.repo.GetAttachment(ctx, in.ProjectID, in.SquadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("getting attachment: %w", err)
	}
	if existing != nil && existing.Status == models.AttachmentStatusActive {
		return nil, ErrAlreadyAttached
	}

	n, err := s.repo.CountActiveProjectSquads(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("counting project squads: %w", err)
	}
	if n >= MaxProjectSquads {
		return nil, ErrProjectSquadsLimit
	}
	n, err = s.repo.CountActiveSquadProjects(ctx, in.SquadID)
	if err != nil {
		return nil, fmt.Errorf("counting squad projects: %w", err)
	}
	if n >= MaxSquadProjects {
		return nil, ErrSquadProjectsLimit
	}

	a := &models.ProjectSquadAttachment{
		ProjectID:  in.ProjectID,
		SquadID:    in.SquadID,
		Status:     models.AttachmentStatusActive,
		AttachedBy: in.AttachedBy,
		AttachedAt: s.now().UTC(),
	}
	if err := s.repo.UpsertAttachment(ctx, a); err != nil {
		return nil, fmt.Errorf("attaching squad: %w", err)
	}
	s.invalidate(ctx, in.SquadID)

	slog.Info("squad_attached", "project_id", in.ProjectID, "squad_id", in.SquadID, "attached_by", in.AttachedBy)
	return a, nil
}

// Detach marks an active attachment detached unless the pair still has active instructions.
func (s *Service) Detach(ctx context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error) {
	a, err := s.repo.GetAttachment(ctx, projectID, squadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting attachment: %w", err)
	}
	if a.Status != models.AttachmentStatusActive {
		return nil, ErrAttachmentNotActive
	}

	open, err := s.repo.CountActiveInstructions(ctx, squadID, projectID)
	if err != nil {
		return nil, fmt.Errorf("counting instructions: %w", err)
	}
	if open > 0 {
		return nil, ErrSquadHasActiveInstructions
	}

	detached, err := s.repo.DetachSquad(ctx, projectID, squadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("detaching squad: %w", err)
	}
	s.invalidate(ctx, squadID)

	slog.Info("squad_detached", "project_id", projectID, "squad_id", squadID)
	return detached, nil
}
