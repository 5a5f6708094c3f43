package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeClientWithBackends("sk_test_123", "whsec_test", &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	}, nil)
}

func TestFindCustomerByEmailPicksNewest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/customers", r.URL.Path)
		assert.Equal(t, "jane@example.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","has_more":false,"url":"/v1/customers","data":[
			{"id":"cus_old","object":"customer","created":100},
			{"id":"cus_new","object":"customer","created":200}
		]}`))
	}))

	id, err := c.FindCustomerByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestFindCustomerByEmailNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","has_more":false,"url":"/v1/customers","data":[]}`))
	}))

	_, err := c.FindCustomerByEmail(context.Background(), "nobody@example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestListSubscriptionsKeepsItemLevelPeriods(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscriptions", r.URL.Path)
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		assert.Equal(t, "all", r.URL.Query().Get("status"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","has_more":false,"url":"/v1/subscriptions","data":[
			{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active",
			 "items":{"object":"list","data":[{"id":"si_1","object":"subscription_item",
			   "current_period_start":1700000000,"current_period_end":1702592000,
			   "price":{"id":"price_1","object":"price","recurring":{"interval":"month","interval_count":1}}}]}}
		]}`))
	}))

	subs, err := c.ListSubscriptions(context.Background(), "cus_1")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	item, ok := subs[0].FirstItem()
	require.True(t, ok)
	assert.Equal(t, "cus_1", subs[0].Customer.ID)
	assert.Equal(t, "price_1", item.Price.ID)
	assert.JSONEq(t, "1700000000", string(item.CurrentPeriodStart))
	assert.Empty(t, subs[0].CurrentPeriodStart)
}

func TestGetSubscriptionMapsProviderNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription: 'sub_x'"}}`))
	}))

	_, err := c.GetSubscription(context.Background(), "sub_x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestGetSubscriptionUpstreamFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad"}}`))
	}))

	_, err := c.GetSubscription(context.Background(), "sub_x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstream))
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	c := NewStripeClient("sk_test_123", "whsec_test", nil)
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"customer.subscription.updated",
		"data":{"object":{"id":"sub_1","object":"subscription","status":"active"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := c.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventSubscriptionUpdated, event.Type)

	sub, err := DecodeSubscription(event.Object)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)

	_, err = c.ParseWebhook(payload, "t=1,v1=deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}
