// Package handlers exposes the engine over HTTP. Handlers only translate:
// request decoding, engine call, error-to-status mapping. All policy lives
// in the engine and its collaborators.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "keyword-engine/internal/common/errors"
	"keyword-engine/internal/common/logging"
	"keyword-engine/internal/engine"
	"keyword-engine/internal/ratelimit"
)

// Handlers holds the HTTP endpoints.
type Handlers struct {
	engine  *engine.Engine
	logger  logging.Logger
	metrics http.Handler
}

// New creates the handler set. The metrics handler may be nil, in which
// case /metrics is not registered.
func New(e *engine.Engine, logger logging.Logger, metricsHandler http.Handler) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{engine: e, logger: logger, metrics: metricsHandler}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/keywords/score", h.ScoreKeywords).Methods(http.MethodPost)
	r.HandleFunc("/api/usage", h.GetUsage).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/stats", h.CacheStats).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/invalidate", h.InvalidateCache).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
}

// ScoreKeywords runs the scoring pipeline for a topic.
func (h *Handlers) ScoreKeywords(w http.ResponseWriter, r *http.Request) {
	var req engine.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.ValidationError("request body must be valid JSON"))
		return
	}

	result, err := h.engine.ScoreAndCacheKeywords(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetUsage reports quota consumption for a user.
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, apperrors.ValidationError("user_id query parameter is required"))
		return
	}
	plan := ratelimit.Plan(r.URL.Query().Get("plan"))

	usage, err := h.engine.GetUsage(r.Context(), userID, plan)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, usage)
}

// CacheStats reports cache effectiveness counters.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.GetCacheStats(r.Context()))
}

type invalidateRequest struct {
	Topic    string `json:"topic"`
	Region   string `json:"region"`
	Language string `json:"language"`
}

type invalidateResponse struct {
	RemovedKeys []string `json:"removed_keys"`
	Count       int      `json:"count"`
}

// InvalidateCache removes a topic's cached batch and everything derived
// from it.
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.ValidationError("request body must be valid JSON"))
		return
	}

	removed, err := h.engine.InvalidateTopic(r.Context(), req.Topic, req.Region, req.Language)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	h.writeJSON(w, http.StatusOK, invalidateResponse{RemovedKeys: removed, Count: len(removed)})
}

// Health is a liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Context map[string]interface{} `json:"context,omitempty"`
	ResetAt *time.Time             `json:"reset_at,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("internal error", err)
	}

	status := statusFor(appErr.Type)
	body := errorResponse{
		Error:   appErr.Message,
		Type:    string(appErr.Type),
		Context: appErr.Context,
	}

	if appErr.Type == apperrors.ErrTypeRateLimit && !appErr.ResetAt.IsZero() {
		resetAt := appErr.ResetAt
		body.ResetAt = &resetAt
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
		retryAfter := int(time.Until(resetAt).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}

	if status >= 500 {
		h.logger.Error("request failed", appErr)
	}
	h.writeJSON(w, status, body)
}

func statusFor(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case apperrors.ErrTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrTypeUpstream, apperrors.ErrTypeUpstreamTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", err)
	}
}
