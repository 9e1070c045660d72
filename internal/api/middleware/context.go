package middleware

import (
	"context"
	"net/http"
)

// Principal is the authenticated caller. Role and Subject are opaque values
// taken from a JWT or an API key.
type Principal struct {
	Subject   string
	Role      string
	Source    string
	KeyPrefix string
}

type contextKey string

const (
	principalKey contextKey = "principal"
	traceIDKey   contextKey = "trace_id"
)

func SetPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(r *http.Request) (Principal, bool) {
	p, ok := r.Context().Value(principalKey).(Principal)
	return p, ok
}

func SetTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID returns the request trace id set by the Trace middleware.
func GetTraceID(r *http.Request) string {
	id, _ := r.Context().Value(traceIDKey).(string)
	return id
}
