package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the shared sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": msg}. Server errors are logged with the
// full chain and answered with a generic message.
func writeError(w http.ResponseWriter, logger *zap.Logger, op string, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
		if msg == "" {
			msg = "internal error"
		}
	} else {
		logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
		if msg == "" {
			msg = http.StatusText(status)
		}
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
