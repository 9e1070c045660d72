package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/raci"
	"github.com/arka-squad/arka-labs-sub000/internal/runner"
	"github.com/arka-squad/arka-labs-sub000/internal/squads"
)

// writeError maps service errors onto the error envelope. Unknown errors are
// logged and returned as 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "Internal server error"
	}
	response.Error(w, status, code, msg, details)
}

func classify(err error) (int, string, any) {
	var (
		verr *squads.ValidationError
		rerr *raci.ViolationError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "VALIDATION_ERROR", verr.Fields
	case errors.As(err, &rerr):
		if errors.Is(err, raci.ErrInvalidAssignment) {
			return http.StatusBadRequest, "INVALID_ASSIGNMENT", rerr.Violations
		}
		return http.StatusUnprocessableEntity, "RACI_INVARIANT_VIOLATION", rerr.Violations

	// runner
	case errors.Is(err, runner.ErrUnknownGate):
		return http.StatusNotFound, "GATE_NOT_FOUND", nil
	case errors.Is(err, runner.ErrUnknownRecipe):
		return http.StatusNotFound, "RECIPE_NOT_FOUND", nil
	case errors.Is(err, runner.ErrInvalidStep), errors.Is(err, runner.ErrNoSteps):
		return http.StatusBadRequest, "INVALID_INPUT", nil
	case errors.Is(err, runner.ErrForbiddenScope):
		return http.StatusForbidden, "FORBIDDEN_SCOPE", nil
	case errors.Is(err, runner.ErrConcurrencyLimit):
		return http.StatusTooManyRequests, "CONCURRENCY_LIMIT", nil
	case errors.Is(err, runner.ErrJobNotFound), errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND", nil
	case errors.Is(err, runner.ErrJobNotRunning):
		return http.StatusConflict, "JOB_NOT_RUNNING", nil
	case errors.Is(err, runner.ErrShuttingDown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN", nil

	// squads
	case errors.Is(err, squads.ErrSquadNotFound):
		return http.StatusNotFound, "SQUAD_NOT_FOUND", nil
	case errors.Is(err, squads.ErrProjectNotFound):
		return http.StatusNotFound, "PROJECT_NOT_FOUND", nil
	case errors.Is(err, squads.ErrAgentNotFound):
		return http.StatusNotFound, "AGENT_NOT_FOUND", nil
	case errors.Is(err, squads.ErrMemberNotFound):
		return http.StatusNotFound, "MEMBER_NOT_FOUND", nil
	case errors.Is(err, squads.ErrAttachmentNotFound):
		return http.StatusNotFound, "ATTACHMENT_NOT_FOUND", nil
	case errors.Is(err, squads.ErrProjectLocked):
		return http.StatusLocked, "PROJECT_DISABLED", nil
	case errors.Is(err, squads.ErrInvalidTransition):
		return http.StatusBadRequest, "INVALID_TRANSITION", nil
	case errors.Is(err, squads.ErrSquadStateConflict):
		return http.StatusBadRequest, "SQUAD_STATE_CONFLICT", nil
	case errors.Is(err, squads.ErrProjectStateConflict):
		return http.StatusBadRequest, "PROJECT_STATE_CONFLICT", nil
	case errors.Is(err, squads.ErrSquadNotAttached):
		return http.StatusBadRequest, "SQUAD_NOT_ATTACHED", nil
	case errors.Is(err, squads.ErrNoUpdates):
		return http.StatusBadRequest, "NO_UPDATES", nil
	case errors.Is(err, squads.ErrMemberNotActive):
		return http.StatusBadRequest, "MEMBER_NOT_ACTIVE", nil
	case errors.Is(err, squads.ErrAttachmentNotActive):
		return http.StatusBadRequest, "ATTACHMENT_NOT_ACTIVE", nil
	case errors.Is(err, squads.ErrSquadHasActivity):
		return http.StatusConflict, "SQUAD_HAS_ACTIVITY", nil
	case errors.Is(err, squads.ErrAlreadyMember):
		return http.StatusConflict, "ALREADY_MEMBER", nil
	case errors.Is(err, squads.ErrLastLead):
		return http.StatusConflict, "LAST_LEAD", nil
	case errors.Is(err, squads.ErrAgentHasActiveInstructions):
		return http.StatusConflict, "AGENT_HAS_ACTIVE_INSTRUCTIONS", nil
	case errors.Is(err, squads.ErrAlreadyAttached):
		return http.StatusConflict, "ALREADY_ATTACHED", nil
	case errors.Is(err, squads.ErrSquadHasActiveInstructions):
		return http.StatusConflict, "SQUAD_HAS_ACTIVE_INSTRUCTIONS", nil
	case errors.Is(err, squads.ErrSlugExhausted):
		return http.StatusConflict, "SLUG_EXHAUSTED", nil
	case errors.Is(err, squads.ErrMembersLimit):
		return http.StatusUnprocessableEntity, "MEMBERS_LIMIT", nil
	case errors.Is(err, squads.ErrProjectSquadsLimit):
		return http.StatusUnprocessableEntity, "PROJECT_SQUADS_LIMIT", nil
	case errors.Is(err, squads.ErrSquadProjectsLimit):
		return http.StatusUnprocessableEntity, "SQUAD_PROJECTS_LIMIT", nil
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", nil
}
