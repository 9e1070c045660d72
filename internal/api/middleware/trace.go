package middleware

import (
	"net/http"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/google/uuid"
)

const TraceHeader = response.TraceHeader

// Trace propagates the caller's X-Trace-Id, or a new one, to the context and
// the response headers.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(SetTraceID(r.Context(), id)))
	})
}
