package api

import (
	"net/http"

	mw "github.com/arka-squad/arka-labs-sub000/internal/api/middleware"
	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	ListGates   http.HandlerFunc
	ListRecipes http.HandlerFunc
	RunGate     http.HandlerFunc
	RunRecipe   http.HandlerFunc
	ListJobs    http.HandlerFunc
	GetJob      http.HandlerFunc
	CancelJob   http.HandlerFunc
	JobLogs     http.HandlerFunc
	Stream      http.HandlerFunc
	GateWebhook http.HandlerFunc

	CreateSquad       http.HandlerFunc
	GetSquad          http.HandlerFunc
	UpdateSquad       http.HandlerFunc
	DeleteSquad       http.HandlerFunc
	AddMember         http.HandlerFunc
	RemoveMember      http.HandlerFunc
	CreateInstruction http.HandlerFunc
	AttachSquad       http.HandlerFunc
	DetachSquad       http.HandlerFunc

	ValidateRACI http.HandlerFunc
	AssignRACI   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Trace)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/api/v1/gates/webhook", orNotImplemented(deps.GateWebhook))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// viewer+
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(mw.AnyRole...))

			r.Get("/api/v1/gates", orNotImplemented(deps.ListGates))
			r.Get("/api/v1/recipes", orNotImplemented(deps.ListRecipes))
			r.Get("/api/v1/gates/stream", orNotImplemented(deps.Stream))
			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
			r.Get("/api/v1/jobs/{jobID}/logs", orNotImplemented(deps.JobLogs))
			r.Get("/api/v1/admin/squads/{squadID}", orNotImplemented(deps.GetSquad))
		})

		// editor+
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(mw.EditorPlus...))

			r.Post("/api/v1/gates/run", orNotImplemented(deps.RunGate))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
			r.Post("/api/v1/admin/squads/{squadID}/instructions", orNotImplemented(deps.CreateInstruction))
			r.Post("/api/v1/admin/projects/{projectID}/raci/validate", orNotImplemented(deps.ValidateRACI))
		})

		// admin+
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(mw.AdminPlus...))

			r.Post("/api/v1/recipes/run", orNotImplemented(deps.RunRecipe))

			r.Post("/api/v1/admin/squads", orNotImplemented(deps.CreateSquad))
			r.Patch("/api/v1/admin/squads/{squadID}", orNotImplemented(deps.UpdateSquad))
			r.Delete("/api/v1/admin/squads/{squadID}", orNotImplemented(deps.DeleteSquad))
			r.Post("/api/v1/admin/squads/{squadID}/members", orNotImplemented(deps.AddMember))
			r.Delete("/api/v1/admin/squads/{squadID}/members/{agentID}", orNotImplemented(deps.RemoveMember))

			r.Post("/api/v1/admin/projects/{projectID}/squads", orNotImplemented(deps.AttachSquad))
			r.Delete("/api/v1/admin/projects/{projectID}/squads/{squadID}", orNotImplemented(deps.DetachSquad))
			r.Put("/api/v1/admin/projects/{projectID}/raci", orNotImplemented(deps.AssignRACI))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
