// Package external is the anti-corruption layer between the billing domain
// and the payment provider: the Razorpay API client and the HMAC signature
// verifiers for provider-issued digests.
package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"probill/internal/types"
)

// ---------------------------------------------------------------------------
// Razorpay HMAC Verification
// ---------------------------------------------------------------------------
//
// Razorpay signs two different things with two different secrets:
//
//   - Webhook deliveries: HMAC-SHA256 over the exact raw request body, hex
//     encoded, sent in the X-Razorpay-Signature header. Signed with the
//     webhook secret configured in the provider dashboard.
//   - Payment captures: HMAC-SHA256 over "paymentID|subscriptionID", hex
//     encoded, returned to the client checkout and relayed to verify-payment.
//     Signed with the API key secret.
//
// Verification MUST run over the untouched raw bytes. Re-serializing a parsed
// payload produces a different digest and silently breaks verification.

// VerifyWebhookSignature reports whether signature is a valid hex HMAC-SHA256
// digest of payload under secret. Pure function; returns false (never an
// error) on any mismatch, empty signature, or missing secret. Comparison is
// constant-time to avoid leaking digest prefixes through response timing.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifyPaymentSignature reports whether signature is a valid hex HMAC-SHA256
// digest of "paymentID|subscriptionID" under secret.
func VerifyPaymentSignature(paymentID, subscriptionID, signature, secret string) bool {
	if secret == "" || signature == "" || paymentID == "" || subscriptionID == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(paymentID + "|" + subscriptionID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ---------------------------------------------------------------------------
// Verifier interfaces
// ---------------------------------------------------------------------------

// WebhookVerifier abstracts webhook signature checking for handler injection.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature and
	// signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, signature, secret string) error
}

// PaymentVerifier abstracts payment-capture signature checking.
type PaymentVerifier interface {
	Verify(paymentID, subscriptionID, signature, secret string) error
}

// HMACWebhookVerifier implements WebhookVerifier with the Razorpay raw-body
// HMAC scheme.
type HMACWebhookVerifier struct{}

// Verify maps a failed check to a signature_invalid AppError. Callers treat
// any error as a rejected request; there is no default-allow path.
func (HMACWebhookVerifier) Verify(payload []byte, signature, secret string) error {
	if !VerifyWebhookSignature(payload, signature, secret) {
		return types.NewAppError(types.ErrCodeSignatureInvalid, "webhook signature mismatch", nil)
	}
	return nil
}

// HMACPaymentVerifier implements PaymentVerifier with the Razorpay
// payment-capture HMAC scheme.
type HMACPaymentVerifier struct{}

func (HMACPaymentVerifier) Verify(paymentID, subscriptionID, signature, secret string) error {
	if !VerifyPaymentSignature(paymentID, subscriptionID, signature, secret) {
		return types.NewAppError(types.ErrCodeSignatureInvalid, "payment signature mismatch", nil)
	}
	return nil
}

// Compile-time interface assertions.
var (
	_ WebhookVerifier = HMACWebhookVerifier{}
	_ PaymentVerifier = HMACPaymentVerifier{}
)
