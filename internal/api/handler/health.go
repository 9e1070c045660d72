package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
)

// Pinger is anything with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns GET /api/v1/health.
func NewHealthHandler(db, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "cache": "ok"}
		if err := db.Ping(ctx); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(ctx); err != nil {
			checks["cache"] = "degraded"
		}
		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED", "One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]string{"status": "ok"})
	}
}
