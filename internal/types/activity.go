package types

import (
	"time"

	"github.com/google/uuid"
)

// ActivityAction tags one notable lifecycle event in the audit trail.
type ActivityAction string

const (
	ActionSubscriptionCreated     ActivityAction = "subscription_created"
	ActionSubscriptionCancelReq   ActivityAction = "subscription_cancel_requested"
	ActionSubscriptionReactivated ActivityAction = "subscription_reactivated"
	ActionSubscriptionExpired     ActivityAction = "subscription_expired"
	ActionPaymentProcessed        ActivityAction = "payment_processed"
	ActionPaymentFailed           ActivityAction = "payment_failed"
)

// ActivityLog is an append-only audit record. Rows are never mutated.
type ActivityLog struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"userId"`
	Action      ActivityAction `json:"action"`
	Description string         `json:"description"`
	Metadata    *string        `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// CreateActivityLogParams carries the fields for a new audit row.
type CreateActivityLogParams struct {
	UserID      uuid.UUID
	Action      ActivityAction
	Description string
	Metadata    *string
}

// DashboardMetrics is the aggregate card data for the admin dashboard.
type DashboardMetrics struct {
	ActiveCount  int     `json:"activeCount"`
	PendingCount int     `json:"pendingCount"`
	DailyRevenue float64 `json:"dailyRevenue"`
	FailureCount int     `json:"failureCount"`
}
