package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/worker"
)

const maxWebhookBody = 1 << 16

// EventQueue durably records webhook events for the worker.
type EventQueue interface {
	EnqueueOnce(ctx context.Context, job *models.Job, dedupKey string) (bool, error)
}

// WebhookHandler verifies provider events and hands them to the job queue.
// Processing happens in the worker so the provider gets a fast 200 and
// failed events are retried from the queue.
type WebhookHandler struct {
	Verifier billing.WebhookVerifier
	Queue    EventQueue
	Logger   *zap.Logger
}

func NewWebhookHandler(verifier billing.WebhookVerifier, queue EventQueue, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{Verifier: verifier, Queue: queue, Logger: loggerOrNop(logger).Named("webhook")}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/stripe", h.HandleWebhook())
}

// HandleWebhook processes Stripe webhook events
func (h *WebhookHandler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) > maxWebhookBody {
			writeMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		event, err := h.Verifier.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			h.Logger.Warn("rejected webhook", zap.Error(err))
			if errors.Is(err, models.ErrUnauthorized) {
				writeMessage(w, http.StatusBadRequest, "invalid signature")
				return
			}
			writeMessage(w, http.StatusBadRequest, "invalid webhook payload")
			return
		}

		log := h.Logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

		var job *models.Job
		switch event.Type {
		case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
			job = worker.NewSubscriptionEventJob(event)
		case billing.EventCheckoutCompleted:
			job = worker.NewCheckoutCompletedJob(event)
		default:
			log.Debug("ignoring webhook event")
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}

		created, err := h.Queue.EnqueueOnce(r.Context(), job, "stripe:"+event.ID)
		if err != nil {
			// 500 makes the provider redeliver the event.
			writeError(w, log, "enqueue webhook", err, "failed to record event")
			return
		}
		log.Info("webhook received", zap.Bool("duplicate", !created), zap.Int64("job_id", job.ID))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
