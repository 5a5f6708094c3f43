package reconcile

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

func TestResolveMetadataPlanBeatsLegacyHint(t *testing.T) {
	sub := decode(t, `{"metadata":{"plan":"accelerate"}}`)
	res := Resolve(sub, Hints{PlanLabel: "learn"})
	assert.Equal(t, models.PlanAccelerate, res.Plan)
}

func TestResolveYearlyIntervalWithoutMetadata(t *testing.T) {
	sub := decode(t, `{"items":{"data":[{"price":{"id":"p","recurring":{"interval":"year"}}}]}}`)
	res := Resolve(sub, Hints{})
	assert.Equal(t, models.CadenceYearly, res.Cadence)
	assert.Equal(t, models.PlanLearn, res.Plan)
}

func TestResolveLegacyHintScenario(t *testing.T) {
	sub := decode(t, `{"status":"active","cancel_at_period_end":true,
		"items":[{"price":{"id":"p1","recurring":{"interval":"month"}}}],"metadata":{}}`)

	res := Resolve(sub, Hints{PlanLabel: "Accelerate Annual"})
	assert.Equal(t, Resolution{Plan: models.PlanAccelerate, Cadence: models.CadenceMonthly}, res)
}

func TestResolveCadencePrecedence(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		hints Hints
		want  models.BillingCadence
	}{
		{"defaults to monthly", `{}`, Hints{}, models.CadenceMonthly},
		{"legacy frequency seeds", `{}`, Hints{Frequency: "Quarterly"}, models.CadenceQuarterly},
		{"interval overrides legacy frequency",
			`{"items":[{"price":{"recurring":{"interval":"year"}}}]}`, Hints{Frequency: "monthly"}, models.CadenceYearly},
		{"metadata overrides interval",
			`{"metadata":{"billing_cadence":"quarterly"},"items":[{"price":{"recurring":{"interval":"month"}}}]}`, Hints{}, models.CadenceQuarterly},
		{"unknown interval keeps seed",
			`{"items":[{"price":{"recurring":{"interval":"week"}}}]}`, Hints{Frequency: "every quarter"}, models.CadenceQuarterly},
		{"unrecognized metadata falls through to interval",
			`{"metadata":{"billing_cadence":"fortnightly"},"items":[{"price":{"recurring":{"interval":"year"}}}]}`, Hints{}, models.CadenceYearly},
		{"three-month interval is not quarterly",
			`{"items":[{"price":{"recurring":{"interval":"month","interval_count":3}}}]}`, Hints{}, models.CadenceMonthly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(decode(t, tc.raw), tc.hints).Cadence)
		})
	}
}

func TestSelectMostRelevant(t *testing.T) {
	subs := []billing.RawSubscription{
		{ID: "a", Status: "canceled"},
		{ID: "b", Status: "past_due"},
		{ID: "c", Status: "trialing"},
	}
	got, ok := SelectMostRelevant(subs)
	require.True(t, ok)
	assert.Equal(t, "c", got.ID)

	subs = append(subs, billing.RawSubscription{ID: "d", Status: "active"})
	got, _ = SelectMostRelevant(subs)
	assert.Equal(t, "d", got.ID)

	got, _ = SelectMostRelevant([]billing.RawSubscription{{ID: "x", Status: "canceled"}, {ID: "y", Status: "unpaid"}})
	assert.Equal(t, "x", got.ID)

	_, ok = SelectMostRelevant(nil)
	assert.False(t, ok)
}

func TestBuildSnapshot(t *testing.T) {
	userID := uuid.New()
	sub := decode(t, `{"id":"sub_1","customer":"cus_1","status":"mystery",
		"current_period_start":1700000000,"current_period_end":1702592000,
		"trial_end":"soon","canceled_at":1701000000,
		"items":{"data":[{"price":{"id":"price_9","recurring":{"interval":"month"}}}]}}`)

	snap, _, err := BuildSnapshot(userID, sub, Hints{})
	require.NoError(t, err)
	assert.Equal(t, userID, snap.UserID)
	assert.Equal(t, "cus_1", snap.ProviderCustomerID)
	assert.Equal(t, "price_9", snap.ProviderPriceID)
	assert.Equal(t, models.StatusIncomplete, snap.Status)
	assert.Nil(t, snap.TrialEnd)
	require.NotNil(t, snap.CanceledAt)
	assert.False(t, snap.CancelAtPeriodEnd)
}
