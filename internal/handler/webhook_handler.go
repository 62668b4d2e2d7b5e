package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/adapters/telnyx"
	"github.com/paperline/sales-voice-service/internal/orchestrator"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// WebhookHandler receives Telnyx Call Control webhooks and feeds them
// into the event router. The provider retries non-2xx deliveries, so
// everything that parsed is acknowledged with 200 even when the event
// is ignored.
type WebhookHandler struct {
	router    *orchestrator.Router
	publicKey string
}

// NewWebhookHandler creates the webhook endpoint. publicKey is the
// Telnyx webhook signing key; when empty, signatures are not checked.
func NewWebhookHandler(router *orchestrator.Router, publicKey string) *WebhookHandler {
	return &WebhookHandler{router: router, publicKey: publicKey}
}

// HandleTelnyxWebhook handles POST /telnyx/webhook
func (h *WebhookHandler) HandleTelnyxWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if h.publicKey != "" {
		sig := r.Header.Get(telnyx.SignatureHeader)
		ts := r.Header.Get(telnyx.TimestampHeader)
		if err := telnyx.VerifySignature(h.publicKey, sig, ts, body); err != nil {
			logger.Base().Warn("Webhook signature rejected", zap.Error(err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	ev, err := telnyx.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, telnyx.ErrMalformedWebhook) {
			logger.Base().Warn("Malformed webhook rejected", zap.Error(err))
			http.Error(w, "malformed webhook", http.StatusBadRequest)
			return
		}
		logger.Base().Warn("Webhook parse failed", zap.Error(err))
		http.Error(w, "bad webhook payload", http.StatusBadRequest)
		return
	}

	if !telnyx.KnownEventType(ev.Type) {
		// Unrecognized event types are acknowledged and dropped so the
		// provider does not keep retrying them.
		logger.Base().Debug("Ignoring unhandled webhook event",
			zap.String("event_type", string(ev.Type)), zap.String("call_id", ev.CallID))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.router.Route(ev)
	w.WriteHeader(http.StatusOK)
}
