package squads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// StateReader reads the current status of squads, projects and attachments.
// Lookups of missing rows return store.ErrNotFound.
type StateReader interface {
	SquadStatus(ctx context.Context, id uuid.UUID) (string, error)
	ProjectStatus(ctx context.Context, id int64) (string, error)
	AttachmentStatus(ctx context.Context, squadID uuid.UUID, projectID int64) (string, error)
}

type StateResult struct {
	Valid        bool
	CurrentState string
	Error        string
}

type AttachmentResult struct {
	Attached bool
	Status   string
	Error    string
}

// Validator checks entity states with a single read each. Checks are not
// transactional: the state may change between the check and the write.
type Validator struct {
	repo StateReader
}

func NewValidator(repo StateReader) *Validator {
	return &Validator{repo: repo}
}

func (v *Validator) ValidateSquadState(ctx context.Context, squadID uuid.UUID, allowed ...string) StateResult {
	status, err := v.repo.SquadStatus(ctx, squadID)
	return checkState("Squad", status, err, allowed)
}

func (v *Validator) ValidateProjectState(ctx context.Context, projectID int64, allowed ...string) StateResult {
	status, err := v.repo.ProjectStatus(ctx, projectID)
	return checkState("Project", status, err, allowed)
}

func checkState(entity, status string, err error, allowed []string) StateResult {
	if errors.Is(err, store.ErrNotFound) {
		return StateResult{Error: entity + " not found"}
	}
	if err != nil {
		slog.Error("state_validation_failed", "entity", strings.ToLower(entity), "error", err)
		return StateResult{Error: "Validation failed"}
	}
	if len(allowed) == 0 {
		allowed = []string{models.SquadStatusActive}
	}
	if !slices.Contains(allowed, status) {
		return StateResult{
			CurrentState: status,
			Error:        fmt.Sprintf("%s must be %s (currently %s)", entity, strings.Join(allowed, " or "), status),
		}
	}
	return StateResult{Valid: true, CurrentState: status}
}

func (v *Validator) CheckSquadProjectAttachment(ctx context.Context, squadID uuid.UUID, projectID int64) AttachmentResult {
	status, err := v.repo.AttachmentStatus(ctx, squadID, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return AttachmentResult{Error: "Squad not attached to project"}
	}
	if err != nil {
		slog.Error("squad_project_check_failed", "squad_id", squadID, "project_id", projectID, "error", err)
		return AttachmentResult{Error: "Check failed"}
	}
	return AttachmentResult{Attached: status == models.AttachmentStatusActive, Status: status}
}

var squadTransitions = map[string][]string{
	models.SquadStatusActive:   {models.SquadStatusInactive, models.SquadStatusArchived},
	models.SquadStatusInactive: {models.SquadStatusActive, models.SquadStatusArchived},
	models.SquadStatusArchived: {},
}

// CanTransitionSquad reports whether the squad status table allows from -> to.
func CanTransitionSquad(from, to string) bool {
	return slices.Contains(squadTransitions[from], to)
}

// CheckSquadTransition returns a *TransitionError when from -> to is not allowed.
func CheckSquadTransition(from, to string) error {
	if !CanTransitionSquad(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// squadStateErr maps a failed squad check to the error the services return.
func squadStateErr(r StateResult) error {
	switch {
	case r.Error == "Squad not found":
		return ErrSquadNotFound
	case r.CurrentState == "":
		return fmt.Errorf("squad state check: %s", r.Error)
	}
	return &StateError{Kind: ErrSquadStateConflict, Message: r.Error}
}

func projectStateErr(r StateResult) error {
	switch {
	case r.Error == "Project not found":
		return ErrProjectNotFound
	case r.CurrentState == "":
		return fmt.Errorf("project state check: %s", r.Error)
	}
	return &StateError{Kind: ErrProjectStateConflict, Message: r.Error}
}
