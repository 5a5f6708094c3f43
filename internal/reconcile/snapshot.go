package reconcile

import (
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// relevanceOrder ranks statuses when a customer has several subscriptions.
var relevanceOrder = []models.SubscriptionStatus{
	models.StatusActive,
	models.StatusTrialing,
	models.StatusPastDue,
}

// SelectMostRelevant picks active, then trialing, then past_due, then the
// first subscription in provider order. It returns false for an empty list.
func SelectMostRelevant(subs []billing.RawSubscription) (billing.RawSubscription, bool) {
	if len(subs) == 0 {
		return billing.RawSubscription{}, false
	}
	for _, status := range relevanceOrder {
		found, ok := lo.Find(subs, func(s billing.RawSubscription) bool {
			return models.NormalizeStatus(s.Status) == status
		})
		if ok {
			return found, true
		}
	}
	return subs[0], true
}

// BuildSnapshot derives the full stored record for sub. It fails only when
// the billing period cannot be extracted.
func BuildSnapshot(userID uuid.UUID, sub *billing.RawSubscription, hints Hints) (*models.Subscription, Period, error) {
	period, err := ExtractPeriod(sub)
	if err != nil {
		return nil, Period{}, err
	}
	res := Resolve(sub, hints)

	snap := &models.Subscription{
		UserID:                 userID,
		ProviderCustomerID:     sub.Customer.ID,
		ProviderSubscriptionID: sub.ID,
		Plan:                   res.Plan,
		BillingCadence:         res.Cadence,
		Status:                 models.NormalizeStatus(sub.Status),
		CurrentPeriodStart:     period.Start,
		CurrentPeriodEnd:       period.End,
		CancelAtPeriodEnd:      CancelsAtPeriodEnd(sub, period),
		CanceledAt:             optionalTime(sub.CanceledAt),
		TrialStart:             optionalTime(sub.TrialStart),
		TrialEnd:               optionalTime(sub.TrialEnd),
	}
	if item, ok := sub.FirstItem(); ok {
		snap.ProviderPriceID = item.Price.ID
	}
	return snap, period, nil
}
