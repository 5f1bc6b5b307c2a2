package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"probill/internal/core"
	"probill/internal/external"
	"probill/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockSubStore implements SubscriptionActivator for testing.
type mockSubStore struct {
	record      *types.SubscriptionRecord
	getErr      error
	activateErr error

	activations []types.SubscriptionActivation
}

func (m *mockSubStore) GetByOwner(ctx context.Context, ownerID string) (*types.SubscriptionRecord, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.record, nil
}

func (m *mockSubStore) Activate(ctx context.Context, p types.SubscriptionActivation) error {
	m.activations = append(m.activations, p)
	return m.activateErr
}

// mockProvider implements external.ProviderClient for testing.
type mockProvider struct {
	sub   *external.ProviderSubscription
	err   error
	calls int
}

func (m *mockProvider) CreateSubscription(ctx context.Context, ownerID string) (*external.ProviderSubscription, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.sub, nil
}

// mockPaymentVerifier implements external.PaymentVerifier for testing.
type mockPaymentVerifier struct {
	err   error
	calls []paymentVerifyCall
}

type paymentVerifyCall struct {
	PaymentID      string
	SubscriptionID string
	Signature      string
	Secret         string
}

func (m *mockPaymentVerifier) Verify(paymentID, subscriptionID, signature, secret string) error {
	m.calls = append(m.calls, paymentVerifyCall{
		PaymentID:      paymentID,
		SubscriptionID: subscriptionID,
		Signature:      signature,
		Secret:         secret,
	})
	return m.err
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

var notFoundErr = types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription record not found", nil)

func newTestSubscriptionHandler(provider *mockProvider, store *mockSubStore, payments *mockPaymentVerifier) *SubscriptionHandler {
	return NewSubscriptionHandler(
		provider,
		store,
		payments,
		types.SecretString("key_secret_test"),
		"pro",
		40000,
		core.NewValidator(nil),
		nil,
	)
}

// doAuthedRequest performs a request with an authenticated actor in context.
func doAuthedRequest(h http.HandlerFunc, method, path string, body []byte, actor *types.Actor) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != nil {
		req = req.WithContext(types.WithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return resp["data"]
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	code, _ := resp["error"]["code"].(string)
	return code
}

func testActor() *types.Actor {
	return &types.Actor{ID: "owner_1", Email: "owner@example.com"}
}

// ---------------------------------------------------------------------------
// Tests: HandleCreate
// ---------------------------------------------------------------------------

func TestSubscriptionHandler_HandleCreate_Success(t *testing.T) {
	provider := &mockProvider{sub: &external.ProviderSubscription{ID: "sub_new", Status: "created"}}
	store := &mockSubStore{getErr: notFoundErr}
	handler := newTestSubscriptionHandler(provider, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCreate, http.MethodPost, "/create-subscription", nil, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	data := decodeData(t, rr)
	if data["subscriptionId"] != "sub_new" {
		t.Errorf("expected subscriptionId %q, got %v", "sub_new", data["subscriptionId"])
	}
	if data["plan"] != "pro" {
		t.Errorf("expected plan %q, got %v", "pro", data["plan"])
	}
	if data["amount"] != float64(40000) {
		t.Errorf("expected amount 40000, got %v", data["amount"])
	}
}

func TestSubscriptionHandler_HandleCreate_AlreadyActive(t *testing.T) {
	end := time.Now().UTC().AddDate(0, 6, 0)
	provider := &mockProvider{sub: &external.ProviderSubscription{ID: "sub_new"}}
	store := &mockSubStore{record: &types.SubscriptionRecord{
		OwnerID:         "owner_1",
		Status:          types.SubStatusActive,
		SubscriptionEnd: &end,
	}}
	handler := newTestSubscriptionHandler(provider, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCreate, http.MethodPost, "/create-subscription", nil, testActor())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeSubscriptionActive) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeSubscriptionActive, code)
	}
	if provider.calls != 0 {
		t.Error("expected no provider call when the subscription is already active")
	}
}

func TestSubscriptionHandler_HandleCreate_ExpiredRecordAllowsCheckout(t *testing.T) {
	// An active-status record whose paid period elapsed does not block.
	end := time.Now().UTC().AddDate(0, -1, 0)
	provider := &mockProvider{sub: &external.ProviderSubscription{ID: "sub_new"}}
	store := &mockSubStore{record: &types.SubscriptionRecord{
		OwnerID:         "owner_1",
		Status:          types.SubStatusActive,
		SubscriptionEnd: &end,
	}}
	handler := newTestSubscriptionHandler(provider, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCreate, http.MethodPost, "/create-subscription", nil, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}
}

func TestSubscriptionHandler_HandleCreate_CancelledRecordAllowsCheckout(t *testing.T) {
	provider := &mockProvider{sub: &external.ProviderSubscription{ID: "sub_new"}}
	store := &mockSubStore{record: &types.SubscriptionRecord{
		OwnerID: "owner_1",
		Status:  types.SubStatusCancelled,
	}}
	handler := newTestSubscriptionHandler(provider, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCreate, http.MethodPost, "/create-subscription", nil, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestSubscriptionHandler_HandleCreate_ProviderError(t *testing.T) {
	providerErr := types.NewAppError(types.ErrCodeUpstreamProvider, "failed to create subscription at payment provider", errors.New("timeout"))
	provider := &mockProvider{err: providerErr}
	store := &mockSubStore{getErr: notFoundErr}
	handler := newTestSubscriptionHandler(provider, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCreate, http.MethodPost, "/create-subscription", nil, testActor())

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeUpstreamProvider) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeUpstreamProvider, code)
	}
}

func TestSubscriptionHandler_HandleCreate_NoActor(t *testing.T) {
	handler := newTestSubscriptionHandler(&mockProvider{}, &mockSubStore{}, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCreate, http.MethodPost, "/create-subscription", nil, nil)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: HandleVerifyPayment
// ---------------------------------------------------------------------------

func TestSubscriptionHandler_HandleVerifyPayment_Success(t *testing.T) {
	store := &mockSubStore{getErr: notFoundErr}
	payments := &mockPaymentVerifier{}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, payments)

	body := []byte(`{"paymentId":"pay_1","subscriptionId":"sub_1","signature":"sig_ok"}`)
	rr := doAuthedRequest(handler.HandleVerifyPayment, http.MethodPost, "/verify-payment", body, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	data := decodeData(t, rr)
	if data["success"] != true {
		t.Errorf("expected success true, got %v", data["success"])
	}

	if len(payments.calls) != 1 {
		t.Fatalf("expected 1 verifier call, got %d", len(payments.calls))
	}
	call := payments.calls[0]
	if call.PaymentID != "pay_1" || call.SubscriptionID != "sub_1" || call.Signature != "sig_ok" {
		t.Errorf("verifier called with unexpected arguments: %+v", call)
	}
	if call.Secret != "key_secret_test" {
		t.Errorf("expected unmasked key secret, got %q", call.Secret)
	}

	if len(store.activations) != 1 {
		t.Fatalf("expected 1 activation, got %d", len(store.activations))
	}
	act := store.activations[0]
	if act.OwnerID != "owner_1" {
		t.Errorf("expected owner id %q, got %q", "owner_1", act.OwnerID)
	}
	if act.SubscriptionID != "sub_1" {
		t.Errorf("expected subscription id %q, got %q", "sub_1", act.SubscriptionID)
	}
	if !act.End.Equal(act.Start.AddDate(1, 0, 0)) {
		t.Errorf("expected a one-year paid period, got start %v end %v", act.Start, act.End)
	}
}

func TestSubscriptionHandler_HandleVerifyPayment_InvalidSignature(t *testing.T) {
	store := &mockSubStore{}
	payments := &mockPaymentVerifier{
		err: types.NewAppError(types.ErrCodeSignatureInvalid, "payment signature mismatch", nil),
	}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, payments)

	body := []byte(`{"paymentId":"pay_1","subscriptionId":"sub_1","signature":"sig_bad"}`)
	rr := doAuthedRequest(handler.HandleVerifyPayment, http.MethodPost, "/verify-payment", body, testActor())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeSignatureInvalid) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeSignatureInvalid, code)
	}
	if len(store.activations) != 0 {
		t.Error("expected no activation on an invalid signature")
	}
}

func TestSubscriptionHandler_HandleVerifyPayment_MissingFields(t *testing.T) {
	handler := newTestSubscriptionHandler(&mockProvider{}, &mockSubStore{}, &mockPaymentVerifier{})

	body := []byte(`{"paymentId":"pay_1"}`)
	rr := doAuthedRequest(handler.HandleVerifyPayment, http.MethodPost, "/verify-payment", body, testActor())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestSubscriptionHandler_HandleVerifyPayment_MalformedBody(t *testing.T) {
	handler := newTestSubscriptionHandler(&mockProvider{}, &mockSubStore{}, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleVerifyPayment, http.MethodPost, "/verify-payment", []byte(`{`), testActor())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeValidationInvalidJSON) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeValidationInvalidJSON, code)
	}
}

// ---------------------------------------------------------------------------
// Tests: HandleCheckStatus
// ---------------------------------------------------------------------------

func TestSubscriptionHandler_HandleCheckStatus_Active(t *testing.T) {
	end := time.Now().UTC().AddDate(0, 6, 0)
	store := &mockSubStore{record: &types.SubscriptionRecord{
		OwnerID:         "owner_1",
		Status:          types.SubStatusActive,
		SubscriptionEnd: &end,
	}}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCheckStatus, http.MethodGet, "/check-subscription", nil, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if data := decodeData(t, rr); data["isActive"] != true {
		t.Errorf("expected isActive true, got %v", data["isActive"])
	}
}

func TestSubscriptionHandler_HandleCheckStatus_ExpiredPeriod(t *testing.T) {
	end := time.Now().UTC().AddDate(0, -1, 0)
	store := &mockSubStore{record: &types.SubscriptionRecord{
		OwnerID:         "owner_1",
		Status:          types.SubStatusActive,
		SubscriptionEnd: &end,
	}}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCheckStatus, http.MethodGet, "/check-subscription", nil, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if data := decodeData(t, rr); data["isActive"] != false {
		t.Errorf("expected isActive false for an elapsed period, got %v", data["isActive"])
	}
}

func TestSubscriptionHandler_HandleCheckStatus_PaymentFailed(t *testing.T) {
	end := time.Now().UTC().AddDate(0, 6, 0)
	store := &mockSubStore{record: &types.SubscriptionRecord{
		OwnerID:         "owner_1",
		Status:          types.SubStatusPaymentFailed,
		SubscriptionEnd: &end,
	}}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCheckStatus, http.MethodGet, "/check-subscription", nil, testActor())

	if data := decodeData(t, rr); data["isActive"] != false {
		t.Errorf("expected isActive false for payment_failed, got %v", data["isActive"])
	}
}

func TestSubscriptionHandler_HandleCheckStatus_NoRecord(t *testing.T) {
	store := &mockSubStore{getErr: notFoundErr}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCheckStatus, http.MethodGet, "/check-subscription", nil, testActor())

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d for a missing record, got %d", http.StatusOK, rr.Code)
	}
	if data := decodeData(t, rr); data["isActive"] != false {
		t.Errorf("expected isActive false, got %v", data["isActive"])
	}
}

func TestSubscriptionHandler_HandleCheckStatus_DBError(t *testing.T) {
	store := &mockSubStore{getErr: types.NewAppError(types.ErrCodeInternalDB, "failed to read subscription record", errors.New("connection refused"))}
	handler := newTestSubscriptionHandler(&mockProvider{}, store, &mockPaymentVerifier{})

	rr := doAuthedRequest(handler.HandleCheckStatus, http.MethodGet, "/check-subscription", nil, testActor())

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}
