package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/reconcile"
)

// SubscriptionApplier stores provider subscriptions. reconcile.Reconciler
// implements it.
type SubscriptionApplier interface {
	Apply(ctx context.Context, userID uuid.UUID, sub *billing.RawSubscription) (*reconcile.Result, error)
	ApplyWebhookSubscription(ctx context.Context, sub *billing.RawSubscription) (*reconcile.Result, error)
}

// SubscriptionFetcher loads a subscription by id from the provider.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.RawSubscription, error)
}

// RegisterReconcileJobs wires the webhook job types to the reconciler.
func RegisterReconcileJobs(w *Worker, applier SubscriptionApplier, fetcher SubscriptionFetcher) {
	w.RegisterHandler(models.JobTypeSubscriptionEvent, subscriptionEventHandler(applier, w.logger))
	w.RegisterHandler(models.JobTypeCheckoutCompleted, checkoutCompletedHandler(applier, fetcher, w.logger))
}

// NewSubscriptionEventJob builds the job for a customer.subscription.* event.
func NewSubscriptionEventJob(event billing.Event) *models.Job {
	return newEventJob(models.JobTypeSubscriptionEvent, "subscription", event)
}

// NewCheckoutCompletedJob builds the job for checkout.session.completed.
func NewCheckoutCompletedJob(event billing.Event) *models.Job {
	return newEventJob(models.JobTypeCheckoutCompleted, "session", event)
}

func newEventJob(jobType, key string, event billing.Event) *models.Job {
	return &models.Job{
		JobType:     jobType,
		Priority:    models.JobPriorityHigh,
		MaxAttempts: 5,
		Payload: models.JSONB{
			"event_id":   event.ID,
			"event_type": event.Type,
			key:          event.Object,
		},
		Metadata: models.JSONB{"source": "stripe_webhook"},
	}
}

func subscriptionEventHandler(applier SubscriptionApplier, logger *zap.Logger) Handler {
	return func(ctx context.Context, job *models.Job) error {
		raw, ok := job.Payload.RawJSON("subscription")
		if !ok {
			return Permanent(fmt.Errorf("job %d: payload has no subscription: %w", job.ID, models.ErrValidation))
		}
		sub, err := billing.DecodeSubscription(raw)
		if err != nil {
			return Permanent(fmt.Errorf("job %d: %w: %w", job.ID, models.ErrValidation, err))
		}

		res, err := applier.ApplyWebhookSubscription(ctx, sub)
		if err != nil {
			return classify(err)
		}
		logger.Info("subscription event applied",
			zap.String("event_id", job.Payload.String("event_id")),
			zap.String("event_type", job.Payload.String("event_type")),
			zap.String("subscription_id", res.ProviderSubscriptionID),
			zap.String("status", string(res.Status)),
		)
		return nil
	}
}

func checkoutCompletedHandler(applier SubscriptionApplier, fetcher SubscriptionFetcher, logger *zap.Logger) Handler {
	return func(ctx context.Context, job *models.Job) error {
		raw, ok := job.Payload.RawJSON("session")
		if !ok {
			return Permanent(fmt.Errorf("job %d: payload has no session: %w", job.ID, models.ErrValidation))
		}
		var session billing.CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return Permanent(fmt.Errorf("job %d: decode session: %w: %w", job.ID, models.ErrValidation, err))
		}
		if session.Mode != "" && session.Mode != "subscription" {
			logger.Info("ignoring non-subscription checkout", zap.String("session_id", session.ID), zap.String("mode", session.Mode))
			return nil
		}
		if session.Subscription.ID == "" {
			return Permanent(fmt.Errorf("checkout %s has no subscription: %w", session.ID, models.ErrValidation))
		}

		sub, err := fetcher.GetSubscription(ctx, session.Subscription.ID)
		if err != nil {
			return classify(err)
		}
		if sub.Customer.ID == "" {
			sub.Customer = session.Customer
		}

		ref := strings.TrimSpace(session.ClientReferenceID)
		var res *reconcile.Result
		if ref == "" {
			res, err = applier.ApplyWebhookSubscription(ctx, sub)
		} else {
			userID, perr := uuid.Parse(ref)
			if perr != nil {
				return Permanent(fmt.Errorf("checkout %s: malformed client_reference_id %q: %w", session.ID, ref, models.ErrValidation))
			}
			res, err = applier.Apply(ctx, userID, sub)
		}
		if err != nil {
			return classify(err)
		}

		logger.Info("checkout applied",
			zap.String("session_id", session.ID),
			zap.String("subscription_id", res.ProviderSubscriptionID),
			zap.String("plan", string(res.Plan)),
		)
		return nil
	}
}

// classify makes failures that cannot succeed on retry permanent.
func classify(err error) error {
	if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
		return Permanent(err)
	}
	return err
}
