package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/arka-squad/arka-labs-sub000/internal/api/middleware"
	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/cache"
	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
)

// ReplayGuard remembers webhook event ids. SetNX reports false for a replay.
type ReplayGuard interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

type WebhookConfig struct {
	Secret    string
	ReplayTTL time.Duration
}

// NewWebhookHandler returns POST /api/v1/gates/webhook. The body must carry a
// valid HMAC-SHA256 in X-Signature and a unique X-Event-Id.
func NewWebhookHandler(cfg WebhookConfig, guard ReplayGuard, pub events.Publisher) http.HandlerFunc {
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sig := r.Header.Get("X-Signature")
		eventID := r.Header.Get("X-Event-Id")
		if sig == "" || eventID == "" {
			response.Error(w, http.StatusBadRequest, "MISSING_FIELDS", "X-Signature and X-Event-Id are required", nil)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable body", nil)
			return
		}
		if !gates.VerifySignature(sig, body, cfg.Secret) {
			slog.Info("gates_webhook_bad_signature", "event_id", eventID, "trace_id", mw.GetTraceID(r))
			response.Error(w, http.StatusUnauthorized, "BAD_SIGNATURE", "Signature verification failed", nil)
			return
		}

		first, err := guard.SetNX(r.Context(), cache.WebhookEventKey(eventID), []byte(sig), cfg.ReplayTTL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !first {
			response.JSON(w, map[string]any{"ok": true, "idempotent": true})
			return
		}

		events.PublishAsync(pub, events.Event{
			Type:    events.GateWebhookReceived,
			TraceID: mw.GetTraceID(r),
			Data:    map[string]any{"event_id": eventID, "size": len(body)},
		})
		slog.Info("gates_webhook", "event_id", eventID, "trace_id", mw.GetTraceID(r))
		response.JSON(w, map[string]any{"ok": true})
	}
}
