// Package handlers contains the HTTP handler implementations for the billing
// API. Each handler file defines its service contracts locally and receives
// implementations via the constructor, which keeps handlers testable without
// touching the database or the payment provider.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"probill/internal/core"
	"probill/internal/external"
	"probill/internal/types"
)

// --- Service Interfaces ---

// SubscriptionReader provides the read access the lifecycle handler needs.
type SubscriptionReader interface {
	// GetByOwner returns the subscription record for the given owner, or a
	// not_found error when the owner has never activated one.
	GetByOwner(ctx context.Context, ownerID string) (*types.SubscriptionRecord, error)
}

// SubscriptionActivator persists a verified payment as an active subscription.
type SubscriptionActivator interface {
	SubscriptionReader

	// Activate upserts the owner's record into the active state, clearing any
	// prior failure or cancellation marks.
	Activate(ctx context.Context, p types.SubscriptionActivation) error
}

// --- Request/Response Models ---

// CreateSubscriptionResponse is the response for POST /create-subscription.
// Field names match the checkout client contract.
type CreateSubscriptionResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	Plan           string `json:"plan"`
	Amount         int64  `json:"amount"`
}

// VerifyPaymentRequest is the request body for POST /verify-payment. The
// signature is the provider's HMAC over "paymentId|subscriptionId".
type VerifyPaymentRequest struct {
	PaymentID      string `json:"paymentId" validate:"required"`
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
}

// VerifyPaymentResponse is the response for POST /verify-payment.
type VerifyPaymentResponse struct {
	Success bool `json:"success"`
}

// CheckSubscriptionResponse is the response for GET /check-subscription.
type CheckSubscriptionResponse struct {
	IsActive bool `json:"isActive"`
}

// --- Subscription Handler ---

// subscriptionTerm is how long one verified payment entitles access.
const subscriptionTerm = 1 // years

// SubscriptionHandler handles the authenticated subscription lifecycle:
// creation at the provider, payment verification, and entitlement checks.
type SubscriptionHandler struct {
	provider   external.ProviderClient
	store      SubscriptionActivator
	payments   external.PaymentVerifier
	keySecret  types.SecretString
	planName   string
	planAmount int64
	validator  *core.Validator
	logger     *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler with the provided
// dependencies.
func NewSubscriptionHandler(
	provider external.ProviderClient,
	store SubscriptionActivator,
	payments external.PaymentVerifier,
	keySecret types.SecretString,
	planName string,
	planAmount int64,
	v *core.Validator,
	l *slog.Logger,
) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}

	return &SubscriptionHandler{
		provider:   provider,
		store:      store,
		payments:   payments,
		keySecret:  keySecret,
		planName:   planName,
		planAmount: planAmount,
		validator:  v,
		logger:     l,
	}
}

// RegisterRoutes mounts the subscription lifecycle endpoints. All three
// require an authenticated actor; the auth middleware rejects anonymous
// requests before they reach these handlers.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-subscription", h.HandleCreate)
	r.Post("/verify-payment", h.HandleVerifyPayment)
	r.Get("/check-subscription", h.HandleCheckStatus)
}

// HandleCreate handles POST /create-subscription.
//
//  1. Rejects the request when the owner already holds a currently active
//     subscription. A cancelled, failed, or expired record does not block a
//     new checkout.
//  2. Creates the subscription at the payment provider against the configured
//     plan.
//  3. Returns the provider subscription ID plus plan details for the client
//     checkout flow. Nothing is persisted yet; the record is written only
//     after verify-payment proves the charge.
func (h *SubscriptionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	existing, err := h.store.GetByOwner(r.Context(), actor.ID)
	if err != nil && !types.IsNotFound(err) {
		core.Error(w, r, err)
		return
	}
	if existing.IsActive(time.Now().UTC()) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeSubscriptionActive,
			"you already have an active subscription",
			nil,
		))
		return
	}

	sub, err := h.provider.CreateSubscription(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "provider subscription created",
		"owner_id", actor.ID,
		"subscription_id", sub.ID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CreateSubscriptionResponse{
		SubscriptionID: sub.ID,
		Plan:           h.planName,
		Amount:         h.planAmount,
	}})
}

// HandleVerifyPayment handles POST /verify-payment.
//
// The provider-issued signature is recomputed server-side from the payment and
// subscription IDs. Only a valid signature activates the record; the paid
// period starts now and runs for one year.
func (h *SubscriptionHandler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req VerifyPaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.payments.Verify(req.PaymentID, req.SubscriptionID, req.Signature, h.keySecret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "payment signature verification failed",
			"owner_id", actor.ID,
			"subscription_id", req.SubscriptionID,
		)
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	err := h.store.Activate(r.Context(), types.SubscriptionActivation{
		OwnerID:        actor.ID,
		Email:          actor.Email,
		SubscriptionID: req.SubscriptionID,
		Start:          now,
		End:            now.AddDate(subscriptionTerm, 0, 0),
		PaidAt:         now,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "subscription activated",
		"owner_id", actor.ID,
		"subscription_id", req.SubscriptionID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: VerifyPaymentResponse{Success: true}})
}

// HandleCheckStatus handles GET /check-subscription.
//
// Entitlement is derived, never stored: the record must be in the active
// state and its paid period must not have elapsed. An owner with no record
// gets a plain inactive response rather than an error.
func (h *SubscriptionHandler) HandleCheckStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	rec, err := h.store.GetByOwner(r.Context(), actor.ID)
	if err != nil {
		if types.IsNotFound(err) {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckSubscriptionResponse{IsActive: false}})
			return
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckSubscriptionResponse{
		IsActive: rec.IsActive(time.Now().UTC()),
	}})
}
