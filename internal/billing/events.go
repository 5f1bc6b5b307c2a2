// Package billing holds the provider-agnostic subscription lifecycle logic:
// webhook event normalization and the state transition engine that applies
// events to stored subscription records.
package billing

import (
	"encoding/json"
	"time"

	"probill/internal/types"
)

// Provider event names carried in the webhook envelope.
const (
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionHalted    = "subscription.halted"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// EventKind classifies a webhook event into the transitions the engine knows.
type EventKind string

const (
	KindCharged   EventKind = "charged"
	KindHalted    EventKind = "halted"
	KindCancelled EventKind = "cancelled"
	KindUnknown   EventKind = "unknown"
)

// Event is the normalized form of a provider webhook delivery.
type Event struct {
	Kind           EventKind
	RawKind        string
	SubscriptionID string
	FailureReason  string
	OccurredAt     time.Time
}

// providerEvent mirrors only the envelope fields the normalizer reads. The
// payload is deliberately sparse: provider payloads are large and versioned,
// and decoding the minimum keeps the normalizer tolerant of additions.
type providerEvent struct {
	Event     string               `json:"event"`
	CreatedAt int64                `json:"created_at"`
	Payload   providerEventPayload `json:"payload"`
}

type providerEventPayload struct {
	Subscription *providerEntityWrap `json:"subscription"`
	Payment      *providerPayment    `json:"payment"`
}

type providerEntityWrap struct {
	Entity *providerSubEntity `json:"entity"`
}

type providerSubEntity struct {
	ID string `json:"id"`
}

type providerPayment struct {
	Entity *providerPaymentEntity `json:"entity"`
}

type providerPaymentEntity struct {
	ErrorDescription string `json:"error_description"`
}

// NormalizeEvent parses a raw webhook body into an Event. Malformed JSON is an
// error; an unrecognized event name is not, it normalizes to KindUnknown with
// the original name preserved in RawKind so callers can log it.
func NormalizeEvent(raw []byte) (*Event, error) {
	var pe providerEvent
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed webhook payload", err)
	}

	ev := &Event{
		RawKind:    pe.Event,
		OccurredAt: time.Now().UTC(),
	}
	if pe.CreatedAt > 0 {
		ev.OccurredAt = time.Unix(pe.CreatedAt, 0).UTC()
	}

	switch pe.Event {
	case EventSubscriptionCharged:
		ev.Kind = KindCharged
	case EventSubscriptionHalted:
		ev.Kind = KindHalted
	case EventSubscriptionCancelled:
		ev.Kind = KindCancelled
	default:
		ev.Kind = KindUnknown
	}

	if sub := pe.Payload.Subscription; sub != nil && sub.Entity != nil {
		ev.SubscriptionID = sub.Entity.ID
	}
	if pay := pe.Payload.Payment; pay != nil && pay.Entity != nil {
		ev.FailureReason = pay.Entity.ErrorDescription
	}

	return ev, nil
}
