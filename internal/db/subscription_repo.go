package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"probill/internal/types"
)

// SubscriptionRepo manages per-owner subscription billing state in the
// `subscriptions` table (unique on owner_id, unique on subscription_id).
//
// Key invariants:
//   - Every mutation is a single conditional statement, so concurrent webhook
//     deliveries for the same subscription cannot interleave a read and a
//     write (no lost updates).
//   - The cancelled status is terminal for event-driven transitions: the
//     transition statements guard on status <> 'cancelled' and treat an
//     affected-row count of zero on an existing record as an idempotent no-op.
//   - Upsert merges: fields absent from the patch are never overwritten.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `id, owner_id, email, subscription_id, status,
	last_payment_at, subscription_start, subscription_end,
	failure_reason, cancelled_at, created_at, updated_at`

// GetByOwner returns the subscription record keyed by the owner identity.
// Returns a not_found_subscription AppError when no record exists.
func (r *SubscriptionRepo) GetByOwner(ctx context.Context, ownerID string) (*types.SubscriptionRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE owner_id = $1`,
		ownerID,
	)
	return scanSubscription(row)
}

// GetBySubscriptionID returns the record holding the provider-issued
// subscription identifier. Returns a not_found_subscription AppError when no
// record exists.
func (r *SubscriptionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.SubscriptionRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE subscription_id = $1`,
		subscriptionID,
	)
	return scanSubscription(row)
}

// Upsert merges the patch into the owner's record, creating the record when
// absent. The merge is a single INSERT ... ON CONFLICT statement: nil patch
// fields leave the stored values untouched, so a partial update can never
// destroy fields it did not include.
func (r *SubscriptionRepo) Upsert(ctx context.Context, ownerID string, patch types.SubscriptionPatch) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
		     id, owner_id, email, subscription_id, status,
		     last_payment_at, subscription_start, subscription_end,
		     failure_reason, cancelled_at, created_at, updated_at
		 ) VALUES (
		     $1, $2, COALESCE($3, ''), COALESCE($4, ''), COALESCE($5, 'none'),
		     $6, $7, $8, $9, $10, NOW(), NOW()
		 )
		 ON CONFLICT (owner_id) DO UPDATE SET
		     email              = COALESCE($3, subscriptions.email),
		     subscription_id    = COALESCE($4, subscriptions.subscription_id),
		     status             = COALESCE($5, subscriptions.status),
		     last_payment_at    = COALESCE($6, subscriptions.last_payment_at),
		     subscription_start = COALESCE($7, subscriptions.subscription_start),
		     subscription_end   = COALESCE($8, subscriptions.subscription_end),
		     failure_reason     = COALESCE($9, subscriptions.failure_reason),
		     cancelled_at       = COALESCE($10, subscriptions.cancelled_at),
		     updated_at         = NOW()`,
		uuid.NewString(),
		ownerID,
		patch.Email,
		patch.SubscriptionID,
		patch.Status,
		patch.LastPaymentAt,
		patch.SubscriptionStart,
		patch.SubscriptionEnd,
		patch.FailureReason,
		patch.CancelledAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription record", err)
	}
	return nil
}

// UpdateBySubscriptionID merges the patch into the record holding the given
// provider subscription id. Returns a not_found_subscription AppError when no
// record carries that id; a webhook must never create records.
func (r *SubscriptionRepo) UpdateBySubscriptionID(ctx context.Context, subscriptionID string, patch types.SubscriptionPatch) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET
		     email              = COALESCE($2, email),
		     status             = COALESCE($3, status),
		     last_payment_at    = COALESCE($4, last_payment_at),
		     subscription_start = COALESCE($5, subscription_start),
		     subscription_end   = COALESCE($6, subscription_end),
		     failure_reason     = COALESCE($7, failure_reason),
		     cancelled_at       = COALESCE($8, cancelled_at),
		     updated_at         = NOW()
		 WHERE subscription_id = $1`,
		subscriptionID,
		patch.Email,
		patch.Status,
		patch.LastPaymentAt,
		patch.SubscriptionStart,
		patch.SubscriptionEnd,
		patch.FailureReason,
		patch.CancelledAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "no record for subscription id", nil)
	}
	return nil
}

// Activate writes the verified-payment activation in one atomic statement,
// creating the owner's record if absent. Unlike Upsert, activation resets
// failure_reason and cancelled_at: a returning owner starts fresh.
func (r *SubscriptionRepo) Activate(ctx context.Context, p types.SubscriptionActivation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
		     id, owner_id, email, subscription_id, status,
		     last_payment_at, subscription_start, subscription_end,
		     failure_reason, cancelled_at, created_at, updated_at
		 ) VALUES (
		     $1, $2, $3, $4, 'active', $5, $6, $7, NULL, NULL, NOW(), NOW()
		 )
		 ON CONFLICT (owner_id) DO UPDATE SET
		     email              = $3,
		     subscription_id    = $4,
		     status             = 'active',
		     last_payment_at    = $5,
		     subscription_start = $6,
		     subscription_end   = $7,
		     failure_reason     = NULL,
		     cancelled_at       = NULL,
		     updated_at         = NOW()`,
		uuid.NewString(),
		p.OwnerID,
		p.Email,
		p.SubscriptionID,
		p.PaidAt,
		p.Start,
		p.End,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate subscription", err)
	}
	return nil
}

// ApplyCharge records a successful charge: status returns to active, the
// payment timestamp refreshes, and any failure reason is cleared (recovery
// from payment_failed). Re-applying to an already-active record only
// refreshes the timestamp, keeping replayed deliveries idempotent.
func (r *SubscriptionRepo) ApplyCharge(ctx context.Context, subscriptionID string, paidAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'active',
		     last_payment_at = $2,
		     failure_reason = NULL,
		     updated_at = NOW()
		 WHERE subscription_id = $1
		   AND status <> 'cancelled'`,
		subscriptionID,
		paidAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply charge", err)
	}
	return r.resolveNoRows(ctx, tag.RowsAffected(), subscriptionID, "charge")
}

// ApplyHalt records a failed charge: status moves to payment_failed and the
// provider's error description is stored.
func (r *SubscriptionRepo) ApplyHalt(ctx context.Context, subscriptionID, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'payment_failed',
		     failure_reason = $2,
		     updated_at = NOW()
		 WHERE subscription_id = $1
		   AND status <> 'cancelled'`,
		subscriptionID,
		reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply halt", err)
	}
	return r.resolveNoRows(ctx, tag.RowsAffected(), subscriptionID, "halt")
}

// ApplyCancel marks the subscription cancelled. Cancelled is terminal for
// event-driven transitions, so re-applying to a cancelled record affects zero
// rows and is treated as an idempotent no-op, not an error.
func (r *SubscriptionRepo) ApplyCancel(ctx context.Context, subscriptionID string, cancelledAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'cancelled',
		     cancelled_at = $2,
		     updated_at = NOW()
		 WHERE subscription_id = $1
		   AND status <> 'cancelled'`,
		subscriptionID,
		cancelledAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply cancellation", err)
	}
	return r.resolveNoRows(ctx, tag.RowsAffected(), subscriptionID, "cancel")
}

// resolveNoRows distinguishes the two causes of a zero-row transition update:
// the record does not exist (not-found, surfaced to the caller) versus the
// record exists but is terminally cancelled (idempotent no-op, logged only).
func (r *SubscriptionRepo) resolveNoRows(ctx context.Context, rowsAffected int64, subscriptionID, transition string) error {
	if rowsAffected > 0 {
		return nil
	}

	var status types.SubscriptionStatus
	err := r.db.QueryRow(ctx,
		`SELECT status FROM subscriptions WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "no record for subscription id", nil)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to resolve transition no-op", err)
	}

	r.logger.Info("transition skipped for terminal subscription",
		slog.String("subscription_id", subscriptionID),
		slog.String("transition", transition),
		slog.String("status", string(status)),
	)
	return nil
}

// scanSubscription scans one row into a SubscriptionRecord, mapping
// pgx.ErrNoRows to the domain's not-found error.
func scanSubscription(row pgx.Row) (*types.SubscriptionRecord, error) {
	var rec types.SubscriptionRecord
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Email,
		&rec.SubscriptionID,
		&rec.Status,
		&rec.LastPaymentAt,
		&rec.SubscriptionStart,
		&rec.SubscriptionEnd,
		&rec.FailureReason,
		&rec.CancelledAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription record not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read subscription record", err)
	}
	return &rec, nil
}
