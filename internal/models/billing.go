package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the reconciled snapshot of a provider subscription. It is
// written as a whole on every reconciliation, keyed by ProviderSubscriptionID.
type Subscription struct {
	ID                     int64              `json:"id"`
	UserID                 uuid.UUID          `json:"user_id"`
	ProviderCustomerID     string             `json:"provider_customer_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	ProviderPriceID        string             `json:"provider_price_id"`
	Plan                   Plan               `json:"plan"`
	BillingCadence         BillingCadence     `json:"billing_cadence"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	TrialStart             *time.Time         `json:"trial_start,omitempty"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	TransferredFromBubble  bool               `json:"transferred_from_bubble"`
	TransferredAt          *time.Time         `json:"transferred_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// BubbleUser is a row of the legacy Bubble export used by the transfer path.
type BubbleUser struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	PlanLabel        string     `json:"plan_label"`
	BillingFrequency string     `json:"billing_frequency"`
	StripeCustomerID *string    `json:"stripe_customer_id,omitempty"`
	MatchedUserID    *uuid.UUID `json:"matched_user_id,omitempty"`
	MatchedAt        *time.Time `json:"matched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Matched reports whether the legacy row was already linked to an account.
func (b *BubbleUser) Matched() bool {
	return b.MatchedUserID != nil
}
