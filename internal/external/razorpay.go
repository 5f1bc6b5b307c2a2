package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"probill/internal/types"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/sony/gobreaker/v2"
)

// ProviderSubscription is the normalized view of a subscription created at the
// payment provider. Only the fields the lifecycle flow needs are surfaced; the
// raw provider response never leaves this package.
type ProviderSubscription struct {
	ID       string
	Status   string
	ShortURL string
	PlanID   string
}

// ProviderClient abstracts subscription creation at the payment provider so
// handlers can be tested without network access.
type ProviderClient interface {
	CreateSubscription(ctx context.Context, ownerID string) (*ProviderSubscription, error)
}

// RazorpayClient creates subscriptions through the Razorpay REST API. The SDK
// owns the HTTP transport, so resilience is applied around the SDK call: a
// circuit breaker stops hammering the provider during sustained outages.
type RazorpayClient struct {
	client  *razorpay.Client
	breaker *gobreaker.CircuitBreaker[map[string]interface{}]
	planID  string
	cycles  int
	logger  *slog.Logger
}

// NewRazorpayClient builds a provider client from API credentials and the
// configured plan. totalCycles is the number of billing cycles the
// subscription runs for before expiring at the provider.
func NewRazorpayClient(keyID string, keySecret types.SecretString, planID string, totalCycles int, logger *slog.Logger) *RazorpayClient {
	cb := gobreaker.NewCircuitBreaker[map[string]interface{}](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &RazorpayClient{
		client:  razorpay.NewClient(keyID, keySecret.Unmask()),
		breaker: cb,
		planID:  planID,
		cycles:  totalCycles,
		logger:  logger,
	}
}

// CreateSubscription registers a new subscription against the configured plan.
// The owner ID travels in the notes block so provider-side records can be
// correlated back to an account during support and reconciliation.
func (c *RazorpayClient) CreateSubscription(ctx context.Context, ownerID string) (*ProviderSubscription, error) {
	data := map[string]interface{}{
		"plan_id":         c.planID,
		"customer_notify": 1,
		"total_count":     c.cycles,
		"notes": map[string]interface{}{
			"owner_id": ownerID,
		},
	}

	resp, err := c.breaker.Execute(func() (map[string]interface{}, error) {
		return c.client.Subscription.Create(data, nil)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.WarnContext(ctx, "provider circuit breaker open", "breaker", "razorpay")
			return nil, types.NewAppError(
				types.ErrCodeUpstreamProvider,
				"payment provider temporarily unavailable",
				err,
			)
		}
		c.logger.ErrorContext(ctx, "provider subscription create failed", "error", err)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"failed to create subscription at payment provider",
			err,
		)
	}

	sub, err := providerSubscriptionFromResponse(resp)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"malformed subscription response from payment provider",
			err,
		)
	}
	return sub, nil
}

// providerSubscriptionFromResponse extracts the normalized fields from a raw
// provider response. A response without an id is rejected; the remaining
// fields are optional.
func providerSubscriptionFromResponse(resp map[string]interface{}) (*ProviderSubscription, error) {
	id, ok := resp["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("subscription response missing id")
	}

	sub := &ProviderSubscription{ID: id}
	if status, ok := resp["status"].(string); ok {
		sub.Status = status
	}
	if shortURL, ok := resp["short_url"].(string); ok {
		sub.ShortURL = shortURL
	}
	if planID, ok := resp["plan_id"].(string); ok {
		sub.PlanID = planID
	}
	return sub, nil
}

var _ ProviderClient = (*RazorpayClient)(nil)
