package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/tracing"
)

// Entry paths, used as the metrics "path" label.
const (
	PathSync     = "sync"
	PathTransfer = "transfer"
	PathWebhook  = "webhook"
	PathCheckout = "checkout"
)

// Transfer messages returned to the client.
const (
	MessageAlreadyTransferred = "Already transferred"
	MessageTransferred        = "Subscription transferred"
	MessageNoCustomer         = "No billing customer found for legacy account"
	MessageNoSubscription     = "No subscription found to transfer"
)

// SubscriptionStore persists reconciled snapshots.
type SubscriptionStore interface {
	// LatestSubscriptionForUser returns the most recently updated record or
	// an error wrapping models.ErrNotFound.
	LatestSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
}

// LegacyStore reads and marks rows of the Bubble export.
type LegacyStore interface {
	GetBubbleUserByEmail(ctx context.Context, email string) (*models.BubbleUser, error)
	MarkBubbleUserMatched(ctx context.Context, id int64, userID uuid.UUID, at time.Time) error
}

// Entitlements applies plan-gated side effects after a write. It never fails
// the caller.
type Entitlements interface {
	Apply(ctx context.Context, userID uuid.UUID, plan models.Plan, status models.SubscriptionStatus)
}

// Result summarizes the stored snapshot for API responses.
type Result struct {
	Plan                   models.Plan               `json:"plan"`
	Status                 models.SubscriptionStatus `json:"status"`
	BillingCadence         models.BillingCadence     `json:"billingCadence"`
	CancelAtPeriodEnd      bool                      `json:"cancelAtPeriodEnd"`
	CurrentPeriodStart     time.Time                 `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time                 `json:"currentPeriodEnd"`
	ProviderSubscriptionID string                    `json:"subscriptionId"`
}

// TransferResult is the outcome of a legacy transfer. Created is true only
// when this call wrote a subscription.
type TransferResult struct {
	Transferred  bool    `json:"transferred"`
	Message      string  `json:"message"`
	Subscription *Result `json:"subscription,omitempty"`
	Created      bool    `json:"-"`
}

// Reconciler writes provider state into storage.
type Reconciler struct {
	billing      billing.Client
	subs         SubscriptionStore
	legacy       LegacyStore
	entitlements Entitlements
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Reconciler)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l.Named("reconcile") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides time.Now, used for transferred_at and matched_at.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(client billing.Client, subs SubscriptionStore, legacy LegacyStore, ent Entitlements, opts ...Option) *Reconciler {
	r := &Reconciler{
		billing:      client,
		subs:         subs,
		legacy:       legacy,
		entitlements: ent,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sync re-reads the user's subscriptions from the provider and stores the
// most relevant one.
func (r *Reconciler) Sync(ctx context.Context, user models.AuthUser) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Sync", attribute.String("user.id", user.ID.String()))
	defer span.End()

	res, err := r.sync(ctx, user)
	tracing.RecordError(span, err)
	r.metrics.ObserveReconciliation(PathSync, outcome(err))
	return res, err
}

func (r *Reconciler) sync(ctx context.Context, user models.AuthUser) (*Result, error) {
	customerID, err := r.customerForUser(ctx, user)
	if err != nil {
		return nil, err
	}

	sub, err := r.mostRelevant(ctx, customerID)
	if err != nil {
		return nil, err
	}

	snap, err := r.write(ctx, user.ID, customerID, sub, Hints{}, nil)
	if err != nil {
		return nil, err
	}
	return toResult(snap), nil
}

// Transfer migrates a legacy Bubble customer onto the user's account. Once
// the legacy row is matched, later calls report "Already transferred" and
// write nothing.
func (r *Reconciler) Transfer(ctx context.Context, user models.AuthUser) (*TransferResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Transfer", attribute.String("user.id", user.ID.String()))
	defer span.End()

	res, err := r.transfer(ctx, user)
	tracing.RecordError(span, err)
	r.metrics.ObserveReconciliation(PathTransfer, outcome(err))
	return res, err
}

func (r *Reconciler) transfer(ctx context.Context, user models.AuthUser) (*TransferResult, error) {
	if strings.TrimSpace(user.Email) == "" {
		return nil, fmt.Errorf("reconcile: user %s has no email: %w", user.ID, models.ErrNotFound)
	}

	legacy, err := r.legacy.GetBubbleUserByEmail(ctx, user.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reconcile: load legacy user: %w: %w", models.ErrPersistence, err)
	}
	if legacy.Matched() {
		return &TransferResult{Transferred: true, Message: MessageAlreadyTransferred}, nil
	}

	logger := r.logger.With(zap.String("user_id", user.ID.String()), zap.Int64("bubble_user_id", legacy.ID))

	customerID := ""
	if legacy.StripeCustomerID != nil {
		customerID = strings.TrimSpace(*legacy.StripeCustomerID)
	}
	if customerID == "" {
		customerID, err = r.billing.FindCustomerByEmail(ctx, user.Email)
		if errors.Is(err, models.ErrNotFound) {
			logger.Info("legacy user has no billing customer")
			return r.markMatchedWithoutTransfer(ctx, legacy, user.ID, MessageNoCustomer)
		}
		if err != nil {
			return nil, err
		}
	}

	sub, err := r.mostRelevant(ctx, customerID)
	if errors.Is(err, models.ErrNotFound) {
		logger.Info("legacy customer has no subscription", zap.String("customer", customerID))
		return r.markMatchedWithoutTransfer(ctx, legacy, user.ID, MessageNoSubscription)
	}
	if err != nil {
		return nil, err
	}

	at := r.now().UTC()
	hints := Hints{PlanLabel: legacy.PlanLabel, Frequency: legacy.BillingFrequency}
	snap, err := r.write(ctx, user.ID, customerID, sub, hints, func(s *models.Subscription) {
		s.TransferredFromBubble = true
		s.TransferredAt = &at
	})
	if err != nil {
		return nil, err
	}

	if err := r.legacy.MarkBubbleUserMatched(ctx, legacy.ID, user.ID, at); err != nil {
		return nil, fmt.Errorf("reconcile: mark legacy user matched: %w: %w", models.ErrPersistence, err)
	}

	logger.Info("legacy subscription transferred",
		zap.String("subscription_id", snap.ProviderSubscriptionID),
		zap.String("plan", string(snap.Plan)),
	)
	return &TransferResult{
		Transferred:  true,
		Message:      MessageTransferred,
		Subscription: toResult(snap),
		Created:      true,
	}, nil
}

func (r *Reconciler) markMatchedWithoutTransfer(ctx context.Context, legacy *models.BubbleUser, userID uuid.UUID, msg string) (*TransferResult, error) {
	if err := r.legacy.MarkBubbleUserMatched(ctx, legacy.ID, userID, r.now().UTC()); err != nil {
		return nil, fmt.Errorf("reconcile: mark legacy user matched: %w: %w", models.ErrPersistence, err)
	}
	return &TransferResult{Transferred: false, Message: msg}, nil
}

// Apply stores a single provider subscription for a known owner. The checkout
// worker uses it once the session names the user.
func (r *Reconciler) Apply(ctx context.Context, userID uuid.UUID, sub *billing.RawSubscription) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Apply",
		attribute.String("user.id", userID.String()),
		attribute.String("subscription.id", sub.ID),
	)
	defer span.End()

	snap, err := r.write(ctx, userID, sub.Customer.ID, sub, Hints{}, nil)
	tracing.RecordError(span, err)
	r.metrics.ObserveReconciliation(PathCheckout, outcome(err))
	if err != nil {
		return nil, err
	}
	return toResult(snap), nil
}

// ApplyWebhookSubscription stores a subscription pushed by a webhook. The
// owner is taken from the stored record, else from metadata.user_id; with
// neither the event cannot be attributed and fails with models.ErrNotFound.
func (r *Reconciler) ApplyWebhookSubscription(ctx context.Context, sub *billing.RawSubscription) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.ApplyWebhookSubscription", attribute.String("subscription.id", sub.ID))
	defer span.End()

	res, err := r.applyWebhook(ctx, sub)
	tracing.RecordError(span, err)
	r.metrics.ObserveReconciliation(PathWebhook, outcome(err))
	return res, err
}

func (r *Reconciler) applyWebhook(ctx context.Context, sub *billing.RawSubscription) (*Result, error) {
	if sub.ID == "" {
		return nil, fmt.Errorf("reconcile: webhook subscription without id: %w", models.ErrValidation)
	}

	owner, err := r.ownerOf(ctx, sub)
	if err != nil {
		return nil, err
	}

	snap, err := r.write(ctx, owner, sub.Customer.ID, sub, Hints{}, nil)
	if err != nil {
		return nil, err
	}
	return toResult(snap), nil
}

func (r *Reconciler) ownerOf(ctx context.Context, sub *billing.RawSubscription) (uuid.UUID, error) {
	existing, err := r.subs.GetSubscriptionByProviderID(ctx, sub.ID)
	if err == nil {
		return existing.UserID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("reconcile: look up subscription owner: %w: %w", models.ErrPersistence, err)
	}

	raw := strings.TrimSpace(sub.UserID())
	if raw == "" {
		return uuid.Nil, fmt.Errorf("reconcile: subscription %s has no known owner: %w", sub.ID, models.ErrNotFound)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("reconcile: subscription %s has malformed user_id %q: %w", sub.ID, raw, models.ErrValidation)
	}
	return id, nil
}

func (r *Reconciler) customerForUser(ctx context.Context, user models.AuthUser) (string, error) {
	existing, err := r.subs.LatestSubscriptionForUser(ctx, user.ID)
	switch {
	case err == nil && existing.ProviderCustomerID != "":
		return existing.ProviderCustomerID, nil
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return "", fmt.Errorf("reconcile: load existing subscription: %w: %w", models.ErrPersistence, err)
	}

	if strings.TrimSpace(user.Email) == "" {
		return "", fmt.Errorf("reconcile: user %s has no email to look up: %w", user.ID, models.ErrNotFound)
	}
	return r.billing.FindCustomerByEmail(ctx, user.Email)
}

func (r *Reconciler) mostRelevant(ctx context.Context, customerID string) (*billing.RawSubscription, error) {
	subs, err := r.billing.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	chosen, ok := SelectMostRelevant(subs)
	if !ok {
		return nil, fmt.Errorf("reconcile: customer %s has no subscriptions: %w", customerID, models.ErrNotFound)
	}
	return &chosen, nil
}

// write builds the snapshot, upserts it and runs entitlement rules. Nothing
// is written when the snapshot cannot be built.
func (r *Reconciler) write(ctx context.Context, userID uuid.UUID, customerID string, sub *billing.RawSubscription, hints Hints, mutate func(*models.Subscription)) (*models.Subscription, error) {
	snap, period, err := BuildSnapshot(userID, sub, hints)
	if err != nil {
		r.logger.Warn("subscription rejected",
			zap.String("subscription_id", sub.ID),
			zap.Error(err),
		)
		return nil, err
	}
	if period.Inverted() {
		r.logger.Warn("subscription period does not advance",
			zap.String("subscription_id", sub.ID),
			zap.Time("period_start", period.Start),
			zap.Time("period_end", period.End),
		)
	}
	if snap.ProviderCustomerID == "" {
		snap.ProviderCustomerID = customerID
	}
	if mutate != nil {
		mutate(snap)
	}

	if err := r.subs.UpsertSubscription(ctx, snap); err != nil {
		r.logger.Error("subscription upsert failed",
			zap.Any("snapshot", snap),
			zap.Error(err),
		)
		return nil, fmt.Errorf("reconcile: upsert subscription %s: %w: %w", snap.ProviderSubscriptionID, models.ErrPersistence, err)
	}

	r.logger.Info("subscription reconciled",
		zap.String("user_id", userID.String()),
		zap.String("subscription_id", snap.ProviderSubscriptionID),
		zap.String("plan", string(snap.Plan)),
		zap.String("status", string(snap.Status)),
		zap.String("period_source", period.Source),
	)

	if r.entitlements != nil {
		r.entitlements.Apply(ctx, userID, snap.Plan, snap.Status)
	}
	return snap, nil
}

func toResult(s *models.Subscription) *Result {
	return &Result{
		Plan:                   s.Plan,
		Status:                 s.Status,
		BillingCadence:         s.BillingCadence,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		ProviderSubscriptionID: s.ProviderSubscriptionID,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrPersistence):
		return "persistence_error"
	default:
		return "upstream_error"
	}
}
