// Package reconcile turns provider subscription objects into stored
// subscription snapshots and keeps entitlements in step with them.
package reconcile

import (
	"strings"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// Hints carry plan and frequency labels from outside the provider, today
// only from the legacy Bubble export.
type Hints struct {
	PlanLabel string
	Frequency string
}

// Resolution is the internal plan and cadence of a subscription.
type Resolution struct {
	Plan    models.Plan
	Cadence models.BillingCadence
}

// Resolve derives plan and cadence. Precedence for plan: metadata.plan, then
// the legacy label, then learn. For cadence: metadata.billing_cadence, then
// the first item's recurring interval (month or year), then the legacy
// frequency, then monthly. Quarterly can only come from metadata or the
// legacy frequency; the provider has no quarterly interval.
func Resolve(sub *billing.RawSubscription, hints Hints) Resolution {
	res := Resolution{Plan: models.PlanLearn, Cadence: models.CadenceMonthly}

	if strings.TrimSpace(hints.PlanLabel) != "" {
		res.Plan = models.PlanFromLabel(hints.PlanLabel)
	}
	if v := metadataValue(sub, "plan"); v != "" {
		res.Plan = models.PlanFromLabel(v)
	}

	if c, ok := models.CadenceFromLabel(hints.Frequency); ok {
		res.Cadence = c
	}
	if c, ok := models.CadenceFromLabel(metadataValue(sub, "billing_cadence")); ok {
		res.Cadence = c
		return res
	}
	if c, ok := cadenceFromInterval(sub); ok {
		res.Cadence = c
	}
	return res
}

func cadenceFromInterval(sub *billing.RawSubscription) (models.BillingCadence, bool) {
	item, ok := sub.FirstItem()
	if !ok || item.Price.Recurring == nil {
		return "", false
	}
	switch strings.ToLower(item.Price.Recurring.Interval) {
	case "month":
		return models.CadenceMonthly, true
	case "year":
		return models.CadenceYearly, true
	}
	return "", false
}

func metadataValue(sub *billing.RawSubscription, key string) string {
	if sub == nil || sub.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(sub.Metadata[key])
}
