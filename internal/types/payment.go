package types

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the outcome of a single charge attempt.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusPending   PaymentStatus = "pending"
)

// PaymentHistory is an append-only record of one attempted charge.
// Rows are never updated.
type PaymentHistory struct {
	ID                     uuid.UUID     `json:"id"`
	UserID                 uuid.UUID     `json:"userId"`
	SubscriptionID         uuid.UUID     `json:"subscriptionId"`
	Amount                 float64       `json:"amount"`
	Currency               string        `json:"currency"`
	Status                 PaymentStatus `json:"status"`
	GatewayPaymentIntentID *string       `json:"gatewayPaymentIntentId,omitempty"`
	FailureReason          *string       `json:"failureReason,omitempty"`
	ProcessedAt            time.Time     `json:"processedAt"`
}

// CreatePaymentHistoryParams carries the fields for a new payment row.
type CreatePaymentHistoryParams struct {
	UserID                 uuid.UUID
	SubscriptionID         uuid.UUID
	Amount                 float64
	Currency               string
	Status                 PaymentStatus
	GatewayPaymentIntentID *string
	FailureReason          *string
}
