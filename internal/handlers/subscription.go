package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/middleware"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/reconcile"
)

// Reconciler runs the user-initiated reconciliation paths.
type Reconciler interface {
	Sync(ctx context.Context, user models.AuthUser) (*reconcile.Result, error)
	Transfer(ctx context.Context, user models.AuthUser) (*reconcile.TransferResult, error)
}

// SubscriptionReader loads the stored snapshot.
type SubscriptionReader interface {
	LatestSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

type SubscriptionHandler struct {
	Reconciler Reconciler
	Store      SubscriptionReader
	Logger     *zap.Logger
}

func NewSubscriptionHandler(rec Reconciler, store SubscriptionReader, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{Reconciler: rec, Store: store, Logger: loggerOrNop(logger).Named("subscription")}
}

// RegisterRoutes expects router to be behind RequireUser.
func (h *SubscriptionHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/subscription", h.Current())
	router.Post("/api/subscription/sync", h.Sync())
	router.Post("/api/subscription/transfer", h.Transfer())
}

// Current returns the stored subscription, or null when there is none.
func (h *SubscriptionHandler) Current() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		sub, err := h.Store.LatestSubscriptionForUser(r.Context(), user.ID)
		if errors.Is(err, models.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
			return
		}
		if err != nil {
			writeError(w, h.Logger, "load subscription", err, "failed to load subscription")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
	}
}

// Sync pulls the user's subscription from the billing provider.
func (h *SubscriptionHandler) Sync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		res, err := h.Reconciler.Sync(r.Context(), user)
		if err != nil {
			msg := ""
			if errors.Is(err, models.ErrNotFound) {
				msg = "No subscription found"
			}
			writeError(w, h.Logger.With(zap.String("user_id", user.ID.String())), "subscription sync", err, msg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Transfer moves a legacy Bubble subscription onto the account. 201 when a
// subscription was written by this call, 200 otherwise.
func (h *SubscriptionHandler) Transfer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		res, err := h.Reconciler.Transfer(r.Context(), user)
		if err != nil {
			msg := ""
			if errors.Is(err, models.ErrNotFound) {
				msg = "No legacy account found"
			}
			writeError(w, h.Logger.With(zap.String("user_id", user.ID.String())), "subscription transfer", err, msg)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
	}
}
