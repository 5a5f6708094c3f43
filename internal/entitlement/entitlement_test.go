package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

type fakePortfolios struct {
	published map[uuid.UUID]bool
	err       error
	calls     int
}

func (f *fakePortfolios) UnpublishPortfolios(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if f.published[userID] {
		f.published[userID] = false
		return 1, nil
	}
	return 0, nil
}

func TestLearnActiveUnpublishes(t *testing.T) {
	user := uuid.New()
	store := &fakePortfolios{published: map[uuid.UUID]bool{user: true}}
	m := metrics.New()

	NewEngine(nil, m, PublicPortfolioRule(store)).Apply(context.Background(), user, models.PlanLearn, models.StatusActive)

	assert.False(t, store.published[user])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitlementRevocations.WithLabelValues("public_portfolio", "revoked")))
}

func TestAccelerateTrialingStaysPublished(t *testing.T) {
	user := uuid.New()
	store := &fakePortfolios{published: map[uuid.UUID]bool{user: true}}

	NewEngine(nil, nil, PublicPortfolioRule(store)).Apply(context.Background(), user, models.PlanAccelerate, models.StatusTrialing)

	assert.True(t, store.published[user])
	assert.Zero(t, store.calls)
}

func TestEligibility(t *testing.T) {
	assert.True(t, PaidAndCurrent(models.PlanAccelerate, models.StatusActive))
	assert.True(t, PaidAndCurrent(models.PlanAccelerate, models.StatusTrialing))
	assert.False(t, PaidAndCurrent(models.PlanAccelerate, models.StatusPastDue))
	assert.False(t, PaidAndCurrent(models.PlanAccelerate, models.StatusCanceled))
	assert.False(t, PaidAndCurrent(models.PlanLearn, models.StatusActive))
}

func TestRevokeFailureIsSwallowed(t *testing.T) {
	store := &fakePortfolios{err: errors.New("db gone")}
	m := metrics.New()
	engine := NewEngine(nil, m, PublicPortfolioRule(store))

	assert.NotPanics(t, func() {
		engine.Apply(context.Background(), uuid.New(), models.PlanAccelerate, models.StatusCanceled)
	})
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitlementRevocations.WithLabelValues("public_portfolio", "error")))
}

func TestAlreadyUnpublishedIsNoop(t *testing.T) {
	store := &fakePortfolios{published: map[uuid.UUID]bool{}}
	m := metrics.New()

	NewEngine(nil, m, PublicPortfolioRule(store)).Apply(context.Background(), uuid.New(), models.PlanLearn, models.StatusUnpaid)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitlementRevocations.WithLabelValues("public_portfolio", "noop")))
}
