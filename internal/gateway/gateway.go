package gateway

import "context"

// ChargeResult is the outcome of a single charge attempt. A declined
// charge is a business outcome, not an error: Succeeded is false and
// FailureReason carries the decline reason.
type ChargeResult struct {
	PaymentIntentID string
	Succeeded       bool
	FailureReason   string
}

// Gateway defines the payment-provider operations the lifecycle engine
// depends on. The only implementation in this repo is the mock processor;
// the interface mirrors what a real provider client would expose so one
// could be substituted without touching the engine.
type Gateway interface {
	// CreateCustomer provisions a customer record at the provider and
	// returns its reference id.
	CreateCustomer(ctx context.Context, email, name string) (string, error)

	// CreateSubscription provisions a provider-side subscription for the
	// customer. Returns the provider subscription id and the client secret
	// for the first payment.
	CreateSubscription(ctx context.Context, customerID string) (subscriptionID, clientSecret string, err error)

	// Charge attempts to collect amount in the given currency from the
	// customer. A decline is reported through the result, not the error;
	// the error is reserved for transport-level failures.
	Charge(ctx context.Context, amount float64, currency, customerID string) (*ChargeResult, error)
}
