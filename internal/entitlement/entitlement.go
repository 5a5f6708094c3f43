// Package entitlement revokes plan-gated resources when a subscription no
// longer qualifies for them.
package entitlement

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// Rule gates one resource. Revoke reports whether anything changed.
type Rule struct {
	Name     string
	Eligible func(plan models.Plan, status models.SubscriptionStatus) bool
	Revoke   func(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Engine evaluates rules in order after each reconciliation.
type Engine struct {
	rules   []Rule
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewEngine(logger *zap.Logger, m *metrics.Metrics, rules ...Rule) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rules: rules, logger: logger.Named("entitlement"), metrics: m}
}

// Apply revokes every resource the (plan, status) pair is not eligible for.
// Failures are logged and counted; they never reach the caller.
func (e *Engine) Apply(ctx context.Context, userID uuid.UUID, plan models.Plan, status models.SubscriptionStatus) {
	for _, rule := range e.rules {
		if rule.Eligible(plan, status) {
			continue
		}
		changed, err := rule.Revoke(ctx, userID)
		switch {
		case err != nil:
			e.metrics.ObserveRevocation(rule.Name, "error")
			e.logger.Error("revoke failed",
				zap.String("rule", rule.Name),
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		case changed:
			e.metrics.ObserveRevocation(rule.Name, "revoked")
			e.logger.Info("entitlement revoked",
				zap.String("rule", rule.Name),
				zap.String("user_id", userID.String()),
				zap.String("plan", string(plan)),
				zap.String("status", string(status)),
			)
		default:
			e.metrics.ObserveRevocation(rule.Name, "noop")
		}
	}
}

// PaidAndCurrent is eligible for accelerate subscriptions that are active or
// trialing.
func PaidAndCurrent(plan models.Plan, status models.SubscriptionStatus) bool {
	if plan != models.PlanAccelerate {
		return false
	}
	return status == models.StatusActive || status == models.StatusTrialing
}

// PortfolioUnpublisher flips a user's published portfolios to unpublished.
type PortfolioUnpublisher interface {
	UnpublishPortfolios(ctx context.Context, userID uuid.UUID) (int64, error)
}

// PublicPortfolioRule keeps public portfolios for paid, current subscribers.
func PublicPortfolioRule(store PortfolioUnpublisher) Rule {
	return Rule{
		Name:     "public_portfolio",
		Eligible: PaidAndCurrent,
		Revoke: func(ctx context.Context, userID uuid.UUID) (bool, error) {
			n, err := store.UnpublishPortfolios(ctx, userID)
			return n > 0, err
		},
	}
}
