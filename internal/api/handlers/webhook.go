// This file implements the payment provider webhook handler.
//
// The handler is NOT behind auth middleware; it is called directly by the
// provider. Security is provided by verifying the X-Razorpay-Signature header
// with HMAC-SHA256 over the raw request body.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"probill/internal/billing"
	"probill/internal/core"
	"probill/internal/external"
	"probill/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload (64 KB).
// Provider payloads are small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// signatureHeader carries the provider's HMAC of the raw request body.
const signatureHeader = "X-Razorpay-Signature"

// EventApplier drives subscription state transitions for normalized events.
type EventApplier interface {
	Apply(ctx context.Context, ev *billing.Event) error
}

// WebhookHandler handles asynchronous subscription events from the payment
// provider.
type WebhookHandler struct {
	verifier external.WebhookVerifier
	engine   EventApplier
	secret   types.SecretString
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler with the provided dependencies.
func NewWebhookHandler(
	verifier external.WebhookVerifier,
	engine EventApplier,
	secret types.SecretString,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier: verifier,
		engine:   engine,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. This is separate from the
// lifecycle routes because the webhook route is public (no auth middleware).
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Handle)
}

// Handle processes incoming provider webhook events.
//
//  1. Reads the raw body with a size limit. Verification runs over these
//     exact bytes; the body is never re-serialized first.
//  2. Rejects deliveries with a missing or invalid signature.
//  3. Normalizes the event and applies it through the transition engine.
//  4. Acknowledges with 200 so the provider stops redelivering. Events for
//     subscriptions this service never issued return 404 and store nothing.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		h.logger.WarnContext(r.Context(), "missing webhook signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeSignatureInvalid,
			"missing webhook signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, signature, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed")
		core.Error(w, r, err)
		return
	}

	ev, err := billing.NormalizeEvent(payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "webhook event received",
		"event", ev.RawKind,
		"subscription_id", ev.SubscriptionID,
	)

	if err := h.engine.Apply(r.Context(), ev); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: VerifyPaymentResponse{Success: true}})
}
