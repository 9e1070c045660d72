package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can drop the connection quietly, which is how
// aborted SSE streams end.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			attrs := []any{
				"error", v,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"trace_id", GetTraceID(r),
			}
			if p, ok := GetPrincipal(r); ok {
				attrs = append(attrs, "subject", p.Subject)
			}
			slog.Error("panic_recovered", attrs...)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
