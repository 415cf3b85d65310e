package api

import "github.com/FACorreiaa/go-subscription-billing/internal/types"

// CreateSubscriptionRequest represents the expected JSON body for creating a subscription.
type CreateSubscriptionRequest struct {
	Email    string `json:"email" binding:"required,email" example:"user@example.com"` // Email of the (possibly new) user.
	Username string `json:"username" binding:"required" example:"testuser"`            // Username of the (possibly new) user.
}

// CreateSubscriptionResponse represents the successful JSON response for a new subscription.
type CreateSubscriptionResponse struct {
	SubscriptionID string `json:"subscriptionId" example:"sub_mock_1700000000"` // Gateway subscription reference.
	ClientSecret   string `json:"clientSecret" example:"pi_mock_1700000000_secret"`
}

// ExistingSubscriptionResponse is returned when the user already has an active subscription.
type ExistingSubscriptionResponse struct {
	Message      string              `json:"message" example:"User already has an active subscription"`
	Subscription *types.Subscription `json:"subscription"`
}

// Response represents a generic API response for success or error messages.
type Response struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty" example:"Operation successful"`
	Error   string `json:"error,omitempty" example:"Resource not found"`
}
