package handler

import (
	"context"
	"net/http"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/raci"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
)

type RACIService interface {
	ValidateProject(ctx context.Context, projectID int64, proposed []models.RACIAssignment) raci.Result
	Assign(ctx context.Context, projectID int64, proposed []models.RACIAssignment) (raci.Result, error)
}

type raciRequest struct {
	Assignments []models.RACIAssignment `json:"assignments"`
}

// NewValidateRACIHandler returns POST /api/v1/admin/projects/{projectID}/raci/validate.
// The verdict is always 200; violations are data, not errors.
func NewValidateRACIHandler(svc RACIService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := projectParam(w, r)
		if !ok {
			return
		}
		var req raciRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res := svc.ValidateProject(r.Context(), projectID, req.Assignments)
		if res.Violations == nil {
			res.Violations = []string{}
		}
		response.JSON(w, res)
	}
}

// NewAssignRACIHandler returns PUT /api/v1/admin/projects/{projectID}/raci.
func NewAssignRACIHandler(svc RACIService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := projectParam(w, r)
		if !ok {
			return
		}
		var req raciRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Assignments) == 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "assignments must not be empty", nil)
			return
		}
		if _, err := svc.Assign(r.Context(), projectID, req.Assignments); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"project_id": projectID, "assigned": len(req.Assignments)})
	}
}
