/**
 * @description
 * This file contains the HTTP handler functions for the subscription-tracker.
 * Handlers parse the request, call the service layer and write the JSON
 * response. Domain errors are mapped to status codes in one place.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/subscription-tracker/internal/app"
	"github.com/transfa/subscription-tracker/internal/domain"
	"github.com/transfa/subscription-tracker/internal/metrics"
)

// SubscriptionService is the application surface the handlers depend on.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id int64) (domain.SubscriptionResponse, error)
	UpdateSubscription(ctx context.Context, id int64, upd domain.SubscriptionUpdate) (domain.SubscriptionResponse, error)
	RenewSubscription(ctx context.Context, id int64, months int) (domain.SubscriptionResponse, error)
	GetSubscriptionStatus(ctx context.Context, id int64) (domain.SubscriptionStatus, error)
	ListSubscriptionsByEmail(ctx context.Context, email string) ([]domain.SubscriptionResponse, error)
}

// Sweeper runs one sweep on demand.
type Sweeper interface {
	Run(ctx context.Context) (app.SweepReport, error)
}

// RenewLimiter decides whether another renew of a subscription is allowed.
type RenewLimiter interface {
	Allow(ctx context.Context, subscriptionID int64, userID string) (app.RenewDecision, error)
}

// Handler holds the dependencies the HTTP handlers interact with.
type Handler struct {
	service SubscriptionService
	sweeper Sweeper
	limiter RenewLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithRenewLimiter rejects renew calls the limiter does not allow.
func WithRenewLimiter(limiter RenewLimiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = limiter
	}
}

// WithMetrics records rate limit rejections on m.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new Handler with the given service and sweeper.
func NewHandler(service SubscriptionService, sweeper Sweeper, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, sweeper: sweeper, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type renewRequest struct {
	Months *int `json:"months"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptionsByEmail(r.Context(), r.URL.Query().Get("user_email"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	var upd domain.SubscriptionUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.UpdateSubscription(r.Context(), id, upd)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// handleRenew extends a subscription. The body is optional and months
// defaults to one.
func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	months := 1
	if req.Months != nil {
		months = *req.Months
	}

	if !h.allowRenew(w, r, id) {
		return
	}

	sub, err := h.service.RenewSubscription(r.Context(), id, months)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// allowRenew applies the renew rate limit. Limiter failures let the request through.
func (h *Handler) allowRenew(w http.ResponseWriter, r *http.Request, id int64) bool {
	if h.limiter == nil {
		return true
	}

	userID, _ := GetClerkUserID(r.Context())
	decision, err := h.limiter.Allow(r.Context(), id, userID)
	if err != nil {
		h.logger.Warn("renew rate limiter unavailable", "subscription_id", id, "error", err)
		return true
	}
	if decision.Allowed {
		return true
	}

	if h.metrics != nil {
		h.metrics.RenewalsRateLimited.Inc()
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
	respondWithError(w, http.StatusTooManyRequests, "Too many renew requests")
	return false
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetSubscriptionStatus(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// handleRunSweep runs one sweep synchronously and returns its report.
func (h *Handler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return 0, false
	}
	return id, true
}

// respondWithDomainError maps service errors onto HTTP status codes.
func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Subscription not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrSweepInProgress):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
