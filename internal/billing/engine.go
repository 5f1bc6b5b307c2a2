package billing

import (
	"context"
	"log/slog"
	"time"

	"probill/internal/types"
)

// defaultHaltReason is recorded when a halted event carries no failure
// description from the provider.
const defaultHaltReason = "unknown"

// SubscriptionStore is the persistence surface the engine drives. Each method
// applies one transition atomically for the addressed subscription; an unknown
// subscription ID surfaces as a not_found AppError.
type SubscriptionStore interface {
	ApplyCharge(ctx context.Context, subscriptionID string, paidAt time.Time) error
	ApplyHalt(ctx context.Context, subscriptionID string, reason string) error
	ApplyCancel(ctx context.Context, subscriptionID string, cancelledAt time.Time) error
}

// Engine applies normalized webhook events to the subscription store.
type Engine struct {
	store  SubscriptionStore
	logger *slog.Logger
}

func NewEngine(store SubscriptionStore, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Apply dispatches one event to its transition. Unknown event kinds are
// acknowledged without touching the store so the provider does not redeliver
// them. Events addressing a subscription this service never issued return a
// not_found error and must never create a record.
func (e *Engine) Apply(ctx context.Context, ev *Event) error {
	if ev.Kind == KindUnknown {
		e.logger.InfoContext(ctx, "ignoring unrecognized webhook event", "event", ev.RawKind)
		return nil
	}

	if ev.SubscriptionID == "" {
		return types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"webhook event missing subscription id",
			nil,
		)
	}

	switch ev.Kind {
	case KindCharged:
		return e.store.ApplyCharge(ctx, ev.SubscriptionID, ev.OccurredAt)
	case KindHalted:
		reason := ev.FailureReason
		if reason == "" {
			reason = defaultHaltReason
		}
		return e.store.ApplyHalt(ctx, ev.SubscriptionID, reason)
	case KindCancelled:
		return e.store.ApplyCancel(ctx, ev.SubscriptionID, ev.OccurredAt)
	default:
		e.logger.WarnContext(ctx, "no transition for event kind", "kind", string(ev.Kind))
		return nil
	}
}
