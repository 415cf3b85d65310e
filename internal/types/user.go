package types

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that owns subscriptions. The password column only
// holds a hashed placeholder; there is no login flow in this service.
type User struct {
	ID                    uuid.UUID `json:"id"`
	Username              string    `json:"username"`
	Email                 string    `json:"email"`
	Password              string    `json:"-"`
	GatewayCustomerID     *string   `json:"gatewayCustomerId,omitempty"`
	GatewaySubscriptionID *string   `json:"gatewaySubscriptionId,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

// CreateUserParams carries the fields for a new user row.
type CreateUserParams struct {
	Username          string
	Email             string
	Password          string
	GatewayCustomerID *string
}
