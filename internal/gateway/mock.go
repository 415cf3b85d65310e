package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

var _ Gateway = (*MockGateway)(nil)

// MockGateway simulates an external payment processor with a fixed
// success probability and optional latency. Non-response within the
// context deadline is reported as a declined charge.
type MockGateway struct {
	logger      *slog.Logger
	successRate float64
	latency     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockGateway creates a mock processor. successRate is clamped to
// [0, 1]; 0.9 matches the demo provider's observed decline rate.
func NewMockGateway(successRate float64, latency time.Duration, logger *slog.Logger) *MockGateway {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &MockGateway{
		logger:      logger,
		successRate: successRate,
		latency:     latency,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *MockGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", fmt.Errorf("gateway: create customer: %w", err)
	}
	id := fmt.Sprintf("cus_mock_%d", time.Now().UnixMilli())
	g.logger.DebugContext(ctx, "Mock gateway customer created",
		slog.String("customer_id", id), slog.String("email", email), slog.String("name", name))
	return id, nil
}

func (g *MockGateway) CreateSubscription(ctx context.Context, customerID string) (string, string, error) {
	if err := g.wait(ctx); err != nil {
		return "", "", fmt.Errorf("gateway: create subscription: %w", err)
	}
	now := time.Now().UnixMilli()
	subscriptionID := fmt.Sprintf("sub_mock_%d", now)
	clientSecret := fmt.Sprintf("pi_mock_%d_secret", now)
	g.logger.DebugContext(ctx, "Mock gateway subscription created",
		slog.String("subscription_id", subscriptionID), slog.String("customer_id", customerID))
	return subscriptionID, clientSecret, nil
}

func (g *MockGateway) Charge(ctx context.Context, amount float64, currency, customerID string) (*ChargeResult, error) {
	intentID := fmt.Sprintf("pi_mock_%d", time.Now().UnixMilli())

	if err := g.wait(ctx); err != nil {
		// Non-response is treated as a declined charge, not a system fault.
		g.logger.WarnContext(ctx, "Mock gateway charge timed out",
			slog.String("payment_intent_id", intentID), slog.Any("error", err))
		return &ChargeResult{
			PaymentIntentID: intentID,
			Succeeded:       false,
			FailureReason:   fmt.Sprintf("gateway timeout: %v", err),
		}, nil
	}

	g.mu.Lock()
	roll := g.rnd.Float64()
	g.mu.Unlock()

	if roll >= g.successRate {
		g.logger.InfoContext(ctx, "Mock gateway declined charge",
			slog.String("payment_intent_id", intentID),
			slog.Float64("amount", amount),
			slog.String("currency", currency),
			slog.String("customer_id", customerID))
		return &ChargeResult{
			PaymentIntentID: intentID,
			Succeeded:       false,
			FailureReason:   "Payment failed",
		}, nil
	}

	g.logger.InfoContext(ctx, "Mock gateway charge succeeded",
		slog.String("payment_intent_id", intentID),
		slog.Float64("amount", amount),
		slog.String("currency", currency),
		slog.String("customer_id", customerID))
	return &ChargeResult{PaymentIntentID: intentID, Succeeded: true}, nil
}

// wait simulates provider latency while honoring the caller's deadline.
func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
