package models

import (
	"time"
)

// Subscription statuses. Transitions are driven by elapsed time since
// the last payment signal: active -> grace -> expired.
const (
	SubscriptionActive  = "active"
	SubscriptionGrace   = "grace"
	SubscriptionExpired = "expired"
)

// Subscription is the renewal-boundary state the subscription_check job
// evaluates. Payment signals themselves arrive from an external
// collaborator and land in last_payment_at / current_period_end.
type Subscription struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	LastPaymentAt    time.Time `json:"last_payment_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
