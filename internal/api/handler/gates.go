package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mw "github.com/arka-squad/arka-labs-sub000/internal/api/middleware"
	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/arka-squad/arka-labs-sub000/internal/runner"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
)

const IdempotencyHeader = "X-Idempotency-Key"

// Catalog lists registered gates and recipes.
type Catalog interface {
	List() []gates.Meta
	Recipes() []gates.Recipe
}

// GateRunner starts gate and recipe jobs.
type GateRunner interface {
	SubmitGate(ctx context.Context, ownerID string, req runner.GateRunRequest) (*runner.Submission, error)
	SubmitRecipe(ctx context.Context, ownerID string, req runner.RecipeRunRequest) (*runner.Submission, error)
}

type runAccepted struct {
	JobID      string          `json:"job_id"`
	GateID     string          `json:"gate_id,omitempty"`
	RecipeID   string          `json:"recipe_id,omitempty"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	Progress   models.Progress `json:"progress"`
	TraceID    string          `json:"trace_id"`
	AcceptedAt time.Time       `json:"accepted_at"`
	Reused     bool            `json:"reused,omitempty"`
}

func NewListGatesHandler(c Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, c.List())
	}
}

func NewListRecipesHandler(c Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, c.Recipes())
	}
}

// NewRunGateHandler returns POST /api/v1/gates/run.
func NewRunGateHandler(jr GateRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		key, ok := idempotencyKey(w, r)
		if !ok {
			return
		}

		var req struct {
			GateID    string         `json:"gate_id"`
			Inputs    map[string]any `json:"inputs"`
			Retry     int            `json:"retry"`
			TimeoutMS int            `json:"timeout_ms"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.GateID) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "gate_id is required", nil)
			return
		}

		sub, err := jr.SubmitGate(r.Context(), p.Subject, runner.GateRunRequest{
			GateID:         req.GateID,
			Inputs:         req.Inputs,
			Retry:          req.Retry,
			TimeoutMS:      req.TimeoutMS,
			IdempotencyKey: key,
			TraceID:        mw.GetTraceID(r),
			Role:           p.Role,
		})
		writeSubmission(w, r, sub, err, "gate_run")
	}
}

// NewRunRecipeHandler returns POST /api/v1/recipes/run.
func NewRunRecipeHandler(jr GateRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		key, ok := idempotencyKey(w, r)
		if !ok {
			return
		}

		var req struct {
			RecipeID string         `json:"recipe_id"`
			Inputs   map[string]any `json:"inputs"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.RecipeID) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "recipe_id is required", nil)
			return
		}

		sub, err := jr.SubmitRecipe(r.Context(), p.Subject, runner.RecipeRunRequest{
			RecipeID:       req.RecipeID,
			Inputs:         req.Inputs,
			IdempotencyKey: key,
			TraceID:        mw.GetTraceID(r),
			Role:           p.Role,
		})
		writeSubmission(w, r, sub, err, "recipe_run")
	}
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		response.Error(w, http.StatusBadRequest,
			"IDEMPOTENCY_KEY_REQUIRED", "X-Idempotency-Key header is required", nil)
		return "", false
	}
	w.Header().Set(IdempotencyHeader, key)
	return key, true
}

func writeSubmission(w http.ResponseWriter, r *http.Request, sub *runner.Submission, err error, event string) {
	traceID := mw.GetTraceID(r)
	if err != nil {
		if errors.Is(err, runner.ErrConcurrencyLimit) || errors.Is(err, runner.ErrForbiddenScope) {
			slog.Info(event+"_rejected", "error", err, "trace_id", traceID)
		}
		writeError(w, r, err)
		return
	}

	job := sub.Job
	if sub.Deduplicated {
		slog.Info("already_running", "job_id", job.ID, "target_id", job.TargetID, "trace_id", traceID)
		response.Error(w, http.StatusConflict, "ALREADY_RUNNING",
			"A job for this target is already running", map[string]any{"job_id": job.ID})
		return
	}

	body := runAccepted{
		JobID:      job.ID.String(),
		Status:     string(job.Status),
		StartedAt:  job.StartedAt,
		Progress:   job.Progress,
		TraceID:    job.TraceID,
		AcceptedAt: time.Now().UTC(),
		Reused:     sub.Reused,
	}
	if job.Type == models.JobTypeRecipe {
		body.RecipeID = job.TargetID
	} else {
		body.GateID = job.TargetID
	}
	slog.Info(event, "job_id", job.ID, "reused", sub.Reused, "trace_id", traceID)
	response.Accepted(w, body)
}
