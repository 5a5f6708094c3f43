package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanFromLabel(t *testing.T) {
	cases := map[string]Plan{
		"Accelerate Annual": PlanAccelerate,
		"PRO monthly":       PlanAccelerate,
		"Learn":             PlanLearn,
		"":                  PlanLearn,
		"starter":           PlanLearn,
	}
	for label, want := range cases {
		assert.Equal(t, want, PlanFromLabel(label), label)
	}
}

func TestCadenceFromLabel(t *testing.T) {
	c, ok := CadenceFromLabel("Quarterly")
	assert.True(t, ok)
	assert.Equal(t, CadenceQuarterly, c)

	c, ok = CadenceFromLabel("billed every year")
	assert.True(t, ok)
	assert.Equal(t, CadenceYearly, c)

	_, ok = CadenceFromLabel("weekly")
	assert.False(t, ok)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusPastDue, NormalizeStatus("past_due"))
	assert.Equal(t, StatusActive, NormalizeStatus(" Active "))
	assert.Equal(t, StatusIncomplete, NormalizeStatus("something_new"))
	assert.Equal(t, StatusIncomplete, NormalizeStatus(""))
}

func TestJSONBRawJSON(t *testing.T) {
	j := JSONB{"subscription": map[string]interface{}{"id": "sub_1"}, "user_id": "u"}

	raw, ok := j.RawJSON("subscription")
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"sub_1"}`, string(raw))

	_, ok = j.RawJSON("missing")
	assert.False(t, ok)
	assert.Equal(t, "u", j.String("user_id"))
}

func TestJobCanRetry(t *testing.T) {
	j := &Job{Attempts: 1, MaxAttempts: 3, Status: JobStatusProcessing}
	assert.True(t, j.CanRetry())

	j.Attempts = 3
	assert.False(t, j.CanRetry())
}
