package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/livemap"
	"github.com/yellowbus/route-tracker/internal/app/vehiclefeed"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

// ErrorBody is the payload of every non-2xx JSON response.
type ErrorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestID nullable.Nullable[string]         `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestID = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAppError maps application and domain errors onto HTTP responses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		writeError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	case errors.Is(err, domain.ErrRouteUnresolved):
		writeError(w, r, http.StatusConflict, "ROUTE_UNRESOLVED", "no route is assigned to this identity", nil)
		return
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
		return
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "record not found", nil)
		return
	case errors.Is(err, livemap.ErrAlreadyAttached):
		writeError(w, r, http.StatusConflict, "ALREADY_ATTACHED", err.Error(), nil)
		return
	case errors.Is(err, vehiclefeed.ErrTooManyRoutes), errors.Is(err, domain.ErrChannelUnavailable):
		s.log.Warn("route channel unavailable",
			logger.Action("route_channel_unavailable"),
			slog.String(logger.RequestIDKey, middleware.GetReqID(r.Context())),
			logger.Err(err),
		)
		writeError(w, r, http.StatusServiceUnavailable, "CHANNEL_UNAVAILABLE", "live route data is unavailable", nil)
		return
	}

	s.log.Error("request failed",
		logger.Action("http_internal_error"),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String(logger.RequestIDKey, middleware.GetReqID(r.Context())),
		logger.Err(err),
	)
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
