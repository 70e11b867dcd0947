package handler

import (
	"errors"
	"io"
	"net/http"

	"yogaflow/internal/billing"
	"yogaflow/internal/metrics"
	"yogaflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Stripe sends at most 64 KiB per event.
const maxWebhookBody = 65536

// WebhookHandler receives billing gateway events. Once an event is verified the
// delivery is always acknowledged; reconciliation failures are logged by the
// webhook service and are not retried by the gateway.
type WebhookHandler struct {
	verifier   billing.EventVerifier
	webhookSvc service.WebhookService
	logger     zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(verifier billing.EventVerifier, webhookSvc service.WebhookService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, webhookSvc: webhookSvc, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Stripe)
}

// Stripe godoc
// @Summary Receive Stripe webhook events
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool "received"
// @Failure 400 {string} string "invalid signature or payload"
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		http.Error(w, "failed to read body", http.StatusServiceUnavailable)
		return
	}

	ev, err := h.verifier.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejected webhook")
		metrics.WebhookEvents.WithLabelValues("unknown", metrics.OutcomeRejected).Inc()
		if errors.Is(err, billing.ErrInvalidSignature) {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	// The service logs its own failures.
	_ = h.webhookSvc.HandleEvent(r.Context(), ev)

	writeJSON(w, http.StatusOK, map[string]bool{"received": true}, h.logger)
}
