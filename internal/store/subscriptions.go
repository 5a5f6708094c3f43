package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

const subscriptionColumns = `
  id, user_id, provider_customer_id, provider_subscription_id, provider_price_id,
  plan, billing_cadence, status, current_period_start, current_period_end,
  cancel_at_period_end, canceled_at, trial_start, trial_end,
  transferred_from_bubble, transferred_at, created_at, updated_at`

// UpsertSubscription writes the whole snapshot in one statement keyed by the
// provider subscription id. Transfer provenance is sticky: once a row was
// transferred from Bubble a later sync does not clear it.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return errors.New("store: subscription cannot be nil")
	}

	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO subscriptions (
		   user_id, provider_customer_id, provider_subscription_id, provider_price_id,
		   plan, billing_cadence, status, current_period_start, current_period_end,
		   cancel_at_period_end, canceled_at, trial_start, trial_end,
		   transferred_from_bubble, transferred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (provider_subscription_id) DO UPDATE
		 SET user_id = EXCLUDED.user_id,
		     provider_customer_id = EXCLUDED.provider_customer_id,
		     provider_price_id = EXCLUDED.provider_price_id,
		     plan = EXCLUDED.plan,
		     billing_cadence = EXCLUDED.billing_cadence,
		     status = EXCLUDED.status,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		     canceled_at = EXCLUDED.canceled_at,
		     trial_start = EXCLUDED.trial_start,
		     trial_end = EXCLUDED.trial_end,
		     transferred_from_bubble = subscriptions.transferred_from_bubble OR EXCLUDED.transferred_from_bubble,
		     transferred_at = COALESCE(subscriptions.transferred_at, EXCLUDED.transferred_at),
		     updated_at = now()
		 RETURNING id, created_at, updated_at`,
		sub.UserID,
		sub.ProviderCustomerID,
		sub.ProviderSubscriptionID,
		sub.ProviderPriceID,
		string(sub.Plan),
		string(sub.BillingCadence),
		string(sub.Status),
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		nullableTime(sub.CanceledAt),
		nullableTime(sub.TrialStart),
		nullableTime(sub.TrialEnd),
		sub.TransferredFromBubble,
		nullableTime(sub.TransferredAt),
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert subscription %s: %w", sub.ProviderSubscriptionID, err)
	}
	return nil
}

// LatestSubscriptionForUser returns the user's most recently updated record.
func (s *Store) LatestSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`, userID)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("store: latest subscription for %s: %w", userID, err)
	}
	return sub, nil
}

// GetSubscriptionByProviderID looks a record up by its provider subscription id.
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+subscriptionColumns+`
		 FROM subscriptions
		 WHERE provider_subscription_id = $1`, providerSubscriptionID)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("store: subscription %s: %w", providerSubscriptionID, err)
	}
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub                                   models.Subscription
		plan, cadence, status                 string
		priceID                               sql.NullString
		canceledAt, trialStart, trialEnd, xfr sql.NullTime
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProviderCustomerID,
		&sub.ProviderSubscriptionID,
		&priceID,
		&plan,
		&cadence,
		&status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&canceledAt,
		&trialStart,
		&trialEnd,
		&sub.TransferredFromBubble,
		&xfr,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.ProviderPriceID = priceID.String
	sub.Plan = models.Plan(plan)
	sub.BillingCadence = models.BillingCadence(cadence)
	sub.Status = models.SubscriptionStatus(status)
	sub.CanceledAt = nullTimePtr(canceledAt)
	sub.TrialStart = nullTimePtr(trialStart)
	sub.TrialEnd = nullTimePtr(trialEnd)
	sub.TransferredAt = nullTimePtr(xfr)
	return &sub, nil
}
