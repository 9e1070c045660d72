package squads

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSquadNotFound              = errors.New("squad not found")
	ErrProjectNotFound            = errors.New("project not found")
	ErrSquadStateConflict         = errors.New("squad is not in a required state")
	ErrProjectStateConflict       = errors.New("project is not in a required state")
	ErrProjectLocked              = errors.New("cannot create instructions for disabled projects")
	ErrSquadNotAttached           = errors.New("squad must be attached to project before creating instructions")
	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrNoUpdates                  = errors.New("no updates provided")
	ErrSlugExhausted              = errors.New("could not find a free slug")
	ErrSquadHasActivity           = errors.New("squad has active attachments or open instructions")
	ErrValidation                 = errors.New("validation failed")
	ErrAgentNotFound              = errors.New("agent not found")
	ErrAlreadyMember              = errors.New("agent is already an active member")
	ErrMembersLimit               = errors.New("squad members limit reached")
	ErrMemberNotFound             = errors.New("member not found")
	ErrMemberNotActive            = errors.New("member is not active")
	ErrLastLead                   = errors.New("cannot remove the last active lead")
	ErrAgentHasActiveInstructions = errors.New("agent has active instructions")
	ErrAlreadyAttached            = errors.New("squad is already attached to project")
	ErrProjectSquadsLimit         = errors.New("project squads limit reached")
	ErrSquadProjectsLimit         = errors.New("squad projects limit reached")
	ErrAttachmentNotFound         = errors.New("attachment not found")
	ErrAttachmentNotActive        = errors.New("attachment is not active")
	ErrSquadHasActiveInstructions = errors.New("squad has active instructions on this project")
)

// TransitionError reports a squad status change the transition table forbids.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Cannot transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StateError carries the human-readable validator message of a failed state check.
type StateError struct {
	Kind    error
	Message string
}

func (e *StateError) Error() string { return e.Message }
func (e *StateError) Unwrap() error { return e.Kind }

// ValidationError lists invalid input fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
