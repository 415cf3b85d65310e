package types

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	// SubscriptionStatusActive means the subscription is inside a paid
	// window and scheduled to renew.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusPendingOff means the user asked to cancel; the
	// subscription keeps running until the current paid window ends but
	// will not renew.
	SubscriptionStatusPendingOff SubscriptionStatus = "pending_off"
	// SubscriptionStatusInactive means the paid window has run out.
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

// RenewalWindow is the length of one paid subscription period.
const RenewalWindow = 24 * time.Hour

// DefaultPaymentAmount is charged when a subscription has no recorded
// last payment amount.
const DefaultPaymentAmount = 9.99

// DefaultCurrency for all charges.
const DefaultCurrency = "usd"

// Subscription is one billing lifecycle for a user. Rows are never
// deleted; history is retained across cancel/reactivate cycles.
type Subscription struct {
	ID                uuid.UUID          `json:"id"`
	UserID            uuid.UUID          `json:"userId"`
	Status            SubscriptionStatus `json:"status"`
	SubscriptionStart time.Time          `json:"subscriptionStart"`
	SubscriptionEnd   time.Time          `json:"subscriptionEnd"`
	NextRenewal       *time.Time         `json:"nextRenewal,omitempty"`
	PaymentMethod     *string            `json:"paymentMethod,omitempty"`
	LastPaymentAmount *float64           `json:"lastPaymentAmount,omitempty"`
	IsRecurring       bool               `json:"isRecurring"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// ChargeAmount returns the amount the next renewal should charge.
func (s *Subscription) ChargeAmount() float64 {
	if s.LastPaymentAmount != nil {
		return *s.LastPaymentAmount
	}
	return DefaultPaymentAmount
}

// CreateSubscriptionParams carries the fields for a new subscription row.
type CreateSubscriptionParams struct {
	UserID            uuid.UUID
	Status            SubscriptionStatus
	SubscriptionStart time.Time
	SubscriptionEnd   time.Time
	NextRenewal       *time.Time
	PaymentMethod     *string
	LastPaymentAmount *float64
	IsRecurring       bool
}

// SubscriptionWithUser embeds the owning user for list views.
type SubscriptionWithUser struct {
	Subscription
	User User `json:"user"`
}

// SubscriptionPage is one page of the admin subscription list.
type SubscriptionPage struct {
	Subscriptions []SubscriptionWithUser `json:"subscriptions"`
	Total         int                    `json:"total"`
}
