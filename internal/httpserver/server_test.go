package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productcareerlyst/careerlyst/backend/internal/config"
	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/reconcile"
)

type stubReconciler struct{}

func (stubReconciler) Sync(context.Context, models.AuthUser) (*reconcile.Result, error) {
	return &reconcile.Result{Plan: models.PlanLearn}, nil
}

func (stubReconciler) Transfer(context.Context, models.AuthUser) (*reconcile.TransferResult, error) {
	return &reconcile.TransferResult{}, nil
}

type stubSubscriptions struct{}

func (stubSubscriptions) LatestSubscriptionForUser(context.Context, uuid.UUID) (*models.Subscription, error) {
	return nil, models.ErrNotFound
}

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

func newTestServer() *Server {
	cfg := config.Config{ServerAddress: ":0", Auth: config.AuthConfig{JWTSecret: "secret", JWTAudience: "authenticated"}}
	return New(cfg, Deps{
		DB:            okPinger{},
		Reconciler:    stubReconciler{},
		Subscriptions: stubSubscriptions{},
		Metrics:       metrics.New(),
	})
}

func TestHealthRoute(t *testing.T) {
	server := newTestServer()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestUserRoutesRequireToken(t *testing.T) {
	server := newTestServer()

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/subscription/sync", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rr.Body.String())
}

func TestUnmountedRoutes(t *testing.T) {
	server := newTestServer()

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
