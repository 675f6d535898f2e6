package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/appointment"
	"github.com/hackgods/practicum-scheduling/internal/notify"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: false, Message: message, Data: data})
}

// respondError maps service errors onto HTTP statuses. Anything it does not
// recognise is logged and reported as a generic 500.
func respondError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		validation *appointment.ValidationError
		conflict   *appointment.ConflictError
		transition *appointment.InvalidTransitionError
		forbidden  *appointment.AuthorizationError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{"fields": validation.Fields})
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &conflict):
		var data any
		if conflict.Slot != nil {
			data = map[string]any{"slot": conflict.Slot}
		}
		writeError(w, http.StatusConflict, err.Error(), data)
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, err.Error(), transitionConflict{
			Current:   string(transition.From),
			Requested: string(transition.To),
		})
	case errors.As(err, &forbidden):
		log.Info("request forbidden",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.NamedError("reason", forbidden.Reason()),
		)
		writeError(w, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed", nil)
	case errors.Is(err, notify.ErrQueueFull), errors.Is(err, notify.ErrClosed):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "notifications are temporarily unavailable", nil)
	default:
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
