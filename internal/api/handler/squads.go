package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/squads"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// SquadService is the squad lifecycle surface the admin handlers need.
type SquadService interface {
	Create(ctx context.Context, in squads.CreateSquadInput) (*models.Squad, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SquadDetail, error)
	Update(ctx context.Context, id uuid.UUID, in squads.UpdateSquadInput) (*models.Squad, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddMember(ctx context.Context, squadID uuid.UUID, in squads.AddMemberInput) (*models.SquadMember, error)
	RemoveMember(ctx context.Context, squadID, agentID uuid.UUID) error

	CreateInstruction(ctx context.Context, squadID uuid.UUID, in squads.CreateInstructionInput) (*squads.QueuedInstruction, error)

	Attach(ctx context.Context, in squads.AttachInput) (*models.ProjectSquadAttachment, error)
	Detach(ctx context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error)
}

// SquadHandlers groups the /api/v1/admin squad routes.
type SquadHandlers struct {
	svc SquadService
}

func NewSquadHandlers(svc SquadService) *SquadHandlers {
	return &SquadHandlers{svc: svc}
}

func (h *SquadHandlers) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var in squads.CreateSquadInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.CreatedBy = p.Subject

	sq, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, sq)
}

func (h *SquadHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, detail)
}

func (h *SquadHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	var in squads.UpdateSquadInput
	if !decodeJSON(w, r, &in) {
		return
	}
	sq, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, sq)
}

func (h *SquadHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *SquadHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	var in squads.AddMemberInput
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := h.svc.AddMember(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, m)
}

func (h *SquadHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	squadID, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	agentID, ok := uuidParam(w, r, "agentID", "INVALID_AGENT_ID")
	if !ok {
		return
	}
	if err := h.svc.RemoveMember(r.Context(), squadID, agentID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

type instructionAccepted struct {
	InstructionID       uuid.UUID       `json:"instruction_id"`
	SquadID             uuid.UUID       `json:"squad_id"`
	ProjectID           int64           `json:"project_id"`
	Content             string          `json:"content"`
	Priority            string          `json:"priority"`
	Status              string          `json:"status"`
	EstimatedCompletion time.Time       `json:"estimated_completion"`
	Routing             instructionHint `json:"routing"`
	CreatedBy           string          `json:"created_by"`
	QueuedAt            time.Time       `json:"queued_at"`
}

type instructionHint struct {
	ProviderSuggested string `json:"provider_suggested"`
	Reasoning         string `json:"reasoning"`
}

func (h *SquadHandlers) CreateInstruction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	var in squads.CreateInstructionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.CreatedBy = p.Subject

	q, err := h.svc.CreateInstruction(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ins := q.Instruction
	response.Accepted(w, instructionAccepted{
		InstructionID:       ins.ID,
		SquadID:             ins.SquadID,
		ProjectID:           ins.ProjectID,
		Content:             ins.Content,
		Priority:            ins.Priority,
		Status:              ins.Status,
		EstimatedCompletion: q.Routing.EstimatedCompletion,
		Routing: instructionHint{
			ProviderSuggested: q.Routing.ProviderSuggested,
			Reasoning:         q.Routing.Reasoning,
		},
		CreatedBy: ins.CreatedBy,
		QueuedAt:  ins.CreatedAt,
	})
}

func (h *SquadHandlers) Attach(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	projectID, ok := projectParam(w, r)
	if !ok {
		return
	}
	var req struct {
		SquadID uuid.UUID `json:"squad_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SquadID == uuid.Nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "squad_id is required", nil)
		return
	}
	att, err := h.svc.Attach(r.Context(), squads.AttachInput{
		ProjectID:  projectID,
		SquadID:    req.SquadID,
		AttachedBy: p.Subject,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, att)
}

func (h *SquadHandlers) Detach(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectParam(w, r)
	if !ok {
		return
	}
	squadID, ok := uuidParam(w, r, "squadID", "INVALID_SQUAD_ID")
	if !ok {
		return
	}
	att, err := h.svc.Detach(r.Context(), projectID, squadID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, att)
}
