package types

import "time"

// SubscriptionStatus enumerates the lifecycle states of a subscription record.
// Transitions are applied only through the billing engine's guarded edges;
// "cancelled" is terminal for webhook-driven transitions.
type SubscriptionStatus string

const (
	SubStatusNone          SubscriptionStatus = "none"
	SubStatusActive        SubscriptionStatus = "active"
	SubStatusPaymentFailed SubscriptionStatus = "payment_failed"
	SubStatusCancelled     SubscriptionStatus = "cancelled"
)

// SubscriptionRecord is the per-owner billing state. OwnerID is the unique
// key; SubscriptionID is the provider-issued identifier and is unique across
// records once set.
type SubscriptionRecord struct {
	ID                string
	OwnerID           string
	Email             string
	SubscriptionID    string
	Status            SubscriptionStatus
	LastPaymentAt     *time.Time
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	FailureReason     *string // present only while status is payment_failed
	CancelledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive reports whether the subscription entitles access at the given
// instant. This is a derived property, never stored: an "active" status with
// an elapsed paid period is not active.
func (r *SubscriptionRecord) IsActive(now time.Time) bool {
	if r == nil || r.Status != SubStatusActive {
		return false
	}
	return r.SubscriptionEnd != nil && r.SubscriptionEnd.After(now)
}

// SubscriptionPatch is a partial update merged into an existing record.
// Nil fields are left untouched by the store; the merge never destructively
// overwrites fields the caller did not include.
type SubscriptionPatch struct {
	Email             *string
	SubscriptionID    *string
	Status            *SubscriptionStatus
	LastPaymentAt     *time.Time
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	FailureReason     *string
	CancelledAt       *time.Time
}

// SubscriptionActivation carries the fields written when a verified payment
// activates (or re-activates) an owner's subscription. Activation is the only
// path that creates a record; it also resets failure and cancellation marks,
// treating a returning owner as starting fresh.
type SubscriptionActivation struct {
	OwnerID        string
	Email          string
	SubscriptionID string
	Start          time.Time
	End            time.Time
	PaidAt         time.Time
}
