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

type AddMemberInput struct {
	AgentID         uuid.UUID       `json:"agent_id"`
	Role            string          `json:"role"`
	Specializations []string        `json:"specializations"`
	Permissions     map[string]bool `json:"permissions"`
}

func validMemberRole(role string) bool {
	switch role {
	case models.MemberRoleLead, models.MemberRoleSpecialist, models.MemberRoleContributor:
		return true
	}
	return false
}

// AddMember adds an agent to an active squad, reactivating a former membership.
func (s *Service) AddMember(ctx context.Context, squadID uuid.UUID, in AddMemberInput) (*models.SquadMember, error) {
	f := fieldErrors{}
	if in.AgentID == uuid.Nil {
		f["agent_id"] = "is required"
	}
	if !validMemberRole(in.Role) {
		f["role"] = "must be lead, specialist or contributor"
	}
	if err := f.err(); err != nil {
		return nil, err
	}

	if r := s.state.ValidateSquadState(ctx, squadID); !r.Valid {
		return nil, squadStateErr(r)
	}

	agent, err := s.repo.GetAgent(ctx, in.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent: %w", err)
	}

	existing, err := s.repo.GetMember(ctx, squadID, in.AgentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	if existing != nil && existing.Status == models.MemberStatusActive {
		return nil, ErrAlreadyMember
	}

	n, err := s.repo.CountActiveMembers(ctx, squadID)
	if err != nil {
		return nil, fmt.Errorf("counting members: %w", err)
	}
	if n >= MaxActiveMembers {
		return nil, ErrMembersLimit
	}

	m := &models.SquadMember{
		SquadID:         squadID,
		AgentID:         in.AgentID,
		AgentName:       agent.Name,
		Role:            in.Role,
		Specializations: in.Specializations,
		Permissions:     in.Permissions,
		Status:          models.MemberStatusActive,
		CreatedAt:       s.now().UTC(),
	}
	if m.Specializations == nil {
		m.Specializations = []string{}
	}
	if m.Permissions == nil {
		m.Permissions = map[string]bool{}
	}
	if err := s.repo.UpsertMember(ctx, m); err != nil {
		return nil, fmt.Errorf("adding member: %w", err)
	}
	s.invalidate(ctx, squadID)

	slog.Info("squad_member_added", "squad_id", squadID, "agent_id", in.AgentID, "role", in.Role, "reactivated", existing != nil)
	return m, nil
}

// RemoveMember deactivates a membership. The last active lead and agents
// with active instructions cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, squadID, agentID uuid.UUID) error {
	m, err := s.repo.GetMember(ctx, squadID, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return fmt.Errorf("getting member: %w", err)
	}
	if m.Status != models.MemberStatusActive {
		return ErrMemberNotActive
	}

	if m.Role == models.MemberRoleLead {
		leads, err := s.repo.CountActiveLeads(ctx, squadID)
		if err != nil {
			return fmt.Errorf("counting leads: %w", err)
		}
		if leads <= 1 {
			return ErrLastLead
		}
	}

	open, err := s.repo.CountAgentActiveInstructions(ctx, squadID, agentID)
	if err != nil {
		return fmt.Errorf("counting agent instructions: %w", err)
	}
	if open > 0 {
		return ErrAgentHasActiveInstructions
	}

	if err := s.repo.DeactivateMember(ctx, squadID, agentID); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	s.invalidate(ctx, squadID)

	slog.Info("squad_member_removed", "squad_id", squadID, "agent_id", agentID)
	return nil
}
