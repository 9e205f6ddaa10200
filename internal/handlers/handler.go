package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/defrilex/messaging/internal/messaging"
	"github.com/defrilex/messaging/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc    *messaging.Service
	ds     store.DataStore
	redis  *store.RedisStore // nil when rate limiting is disabled
	logger zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *messaging.Service, ds store.DataStore, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, ds: ds, redis: redis, logger: logger}
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details []messaging.FieldError `json:"details,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps messaging errors to HTTP responses.
// Anything unrecognised is logged and reported as a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *messaging.ValidationError
	switch {
	case errors.As(err, &verr):
		h.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: verr.Fields})
	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, messaging.ErrRecipientNotFound),
		errors.Is(err, messaging.ErrMessageNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, messaging.ErrForbidden):
		h.Error(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error().
			Err(err).
			Str("op", op).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads the request body into dst, writing the error response itself on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter; absent yields 0.
func queryInt(r *http.Request, name string, verr *messaging.ValidationError) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Fields = append(verr.Fields, messaging.FieldError{Field: name, Message: name + " must be an integer"})
		return 0
	}
	return n
}

// pageParams reads page and limit, returning a validation error for non-numeric values.
// Range clamping is left to the service.
func pageParams(r *http.Request) (page, limit int, err error) {
	verr := &messaging.ValidationError{}
	page = queryInt(r, "page", verr)
	limit = queryInt(r, "limit", verr)
	if len(verr.Fields) > 0 {
		return 0, 0, verr
	}
	return page, limit, nil
}
