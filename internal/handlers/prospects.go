package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/middleware"
	"github.com/productcareerlyst/careerlyst/backend/internal/prospects"
	"github.com/productcareerlyst/careerlyst/backend/internal/wiza"
)

// ProspectService creates and reads Wiza prospect lists.
type ProspectService interface {
	Ensure(ctx context.Context, userID uuid.UUID, req prospects.Request) (*prospects.Result, error)
	ListStatus(ctx context.Context, listID string) (*wiza.List, error)
}

type ProspectHandler struct {
	Service ProspectService
	Logger  *zap.Logger
}

func NewProspectHandler(svc ProspectService, logger *zap.Logger) *ProspectHandler {
	return &ProspectHandler{Service: svc, Logger: loggerOrNop(logger).Named("prospects")}
}

func (h *ProspectHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/prospect-lists", h.Create())
	router.Get("/api/prospect-lists/{listID}", h.Status())
}

// Create answers 201 for a new list, 200 when another request's list is
// reused and 409 when that request has not finished in time.
func (h *ProspectHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req prospects.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<14))
		if err := dec.Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		res, err := h.Service.Ensure(r.Context(), user.ID, req)
		if err != nil {
			msg := ""
			if statusFor(err) == http.StatusConflict {
				msg = "Prospect list is being created, retry shortly"
			}
			writeError(w, h.Logger.With(zap.String("user_id", user.ID.String()), zap.String("company_id", req.CompanyID)),
				"ensure prospect list", err, msg)
			return
		}

		status := http.StatusCreated
		if res.Reused {
			status = http.StatusOK
		}
		writeJSON(w, status, res)
	}
}

func (h *ProspectHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.UserFromContext(r.Context()); !ok {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		list, err := h.Service.ListStatus(r.Context(), chi.URLParam(r, "listID"))
		if err != nil {
			writeError(w, h.Logger, "prospect list status", err, "")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
