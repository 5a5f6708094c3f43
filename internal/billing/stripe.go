package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

const listPageSize = 100

// StripeClient implements Client and WebhookVerifier on top of stripe-go.
// Subscription objects are decoded from the raw response bodies rather than
// the SDK structs so item-level period fields are not lost.
type StripeClient struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeClient creates a client using the default Stripe backends.
func NewStripeClient(secretKey, webhookSecret string, logger *zap.Logger) *StripeClient {
	return NewStripeClientWithBackends(secretKey, webhookSecret, nil, logger)
}

// NewStripeClientWithBackends lets tests point the SDK at a local server.
func NewStripeClientWithBackends(secretKey, webhookSecret string, backends *stripe.Backends, logger *zap.Logger) *StripeClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeClient{
		api:           api,
		webhookSecret: webhookSecret,
		logger:        logger.Named("stripe"),
	}
}

// FindCustomerByEmail picks the most recently created customer with the email.
func (c *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var (
		found   string
		created int64
	)
	it := c.api.Customers.List(params)
	for it.Next() {
		cust := it.Customer()
		if found == "" || cust.Created > created {
			found, created = cust.ID, cust.Created
		}
	}
	if err := it.Err(); err != nil {
		return "", wrapStripeError("list customers", err)
	}
	if found == "" {
		return "", fmt.Errorf("billing: no customer for %s: %w", email, models.ErrNotFound)
	}
	return found, nil
}

// ListSubscriptions lists every subscription of the customer, all statuses.
func (c *StripeClient) ListSubscriptions(ctx context.Context, customerID string) ([]RawSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(listPageSize)

	var (
		subs []RawSubscription
		page *stripe.SubscriptionList
	)
	it := c.api.Subscriptions.List(params)
	for it.Next() {
		current := it.SubscriptionList()
		if current == page {
			continue
		}
		page = current
		decoded, err := decodeSubscriptionPage(current)
		if err != nil {
			return nil, err
		}
		subs = append(subs, decoded...)
	}
	if err := it.Err(); err != nil {
		return nil, wrapStripeError("list subscriptions", err)
	}

	c.logger.Debug("listed subscriptions",
		zap.String("customer", customerID),
		zap.Int("count", len(subs)),
	)
	return subs, nil
}

// GetSubscription fetches one subscription by id.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*RawSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError("get subscription", err)
	}
	if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		return nil, fmt.Errorf("billing: get subscription %s: empty response: %w", subscriptionID, models.ErrUpstream)
	}
	return DecodeSubscription(sub.LastResponse.RawJSON)
}

// ParseWebhook verifies the Stripe-Signature header and returns the event.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (Event, error) {
	if c.webhookSecret == "" {
		return Event{}, fmt.Errorf("billing: webhook secret not configured: %w", models.ErrUnauthorized)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("billing: verify webhook: %w: %w", models.ErrUnauthorized, err)
	}
	var object json.RawMessage
	if event.Data != nil {
		object = event.Data.Raw
	}
	return Event{ID: event.ID, Type: string(event.Type), Object: object}, nil
}

func decodeSubscriptionPage(page *stripe.SubscriptionList) ([]RawSubscription, error) {
	if page == nil || page.LastResponse == nil {
		return nil, fmt.Errorf("billing: list subscriptions: missing page body: %w", models.ErrUpstream)
	}
	var body struct {
		Data []RawSubscription `json:"data"`
	}
	if err := json.Unmarshal(page.LastResponse.RawJSON, &body); err != nil {
		return nil, fmt.Errorf("billing: decode subscription page: %w: %w", models.ErrUpstream, err)
	}
	return body.Data, nil
}

func wrapStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("billing: %s: %w: %s", op, models.ErrNotFound, serr.Msg)
	}
	return fmt.Errorf("billing: %s: %w: %w", op, models.ErrUpstream, err)
}
