package billing

import (
	"context"
	"encoding/json"
)

// Client is the billing provider surface used by reconciliation.
type Client interface {
	// FindCustomerByEmail returns the provider customer id for email, or an
	// error wrapping models.ErrNotFound when there is none.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	// ListSubscriptions returns every subscription of the customer, in
	// provider order, regardless of status.
	ListSubscriptions(ctx context.Context, customerID string) ([]RawSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*RawSubscription, error)
}

// WebhookVerifier authenticates inbound provider events.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// Event is a verified webhook event with its data object kept raw.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// Webhook event types the service reacts to.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutCompleted   = "checkout.session.completed"
)
