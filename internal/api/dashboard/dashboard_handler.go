package dashboard

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/go-subscription-billing/internal/api"
)

// HandlerImpl serves the dashboard read endpoints.
type HandlerImpl struct {
	service DashboardService
	logger  *slog.Logger
}

func NewHandlerImpl(service DashboardService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		service: service,
		logger:  logger,
	}
}

// GetMetrics handles GET /api/dashboard/metrics.
func (h *HandlerImpl) GetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DashboardHandler").Start(r.Context(), "GetMetrics")
	defer span.End()

	m, err := h.service.GetMetrics(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to fetch dashboard metrics", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Metrics fetch failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Error fetching metrics")
		return
	}

	span.SetStatus(codes.Ok, "Metrics fetched")
	api.WriteJSONResponse(w, r, http.StatusOK, m)
}

// ListSubscriptions handles GET /api/subscriptions.
// Query params: page (default 1), limit (default 10), status (optional,
// "all" means no filter).
func (h *HandlerImpl) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DashboardHandler").Start(r.Context(), "ListSubscriptions")
	defer span.End()

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)
	status := r.URL.Query().Get("status")

	result, err := h.service.ListSubscriptions(ctx, page, limit, status)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list subscriptions", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Error fetching subscriptions")
		return
	}

	span.SetStatus(codes.Ok, "Subscriptions listed")
	api.WriteJSONResponse(w, r, http.StatusOK, result)
}

// ListActivityLogs handles GET /api/activity-logs.
func (h *HandlerImpl) ListActivityLogs(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DashboardHandler").Start(r.Context(), "ListActivityLogs")
	defer span.End()

	limit := queryInt(r, "limit", 10)

	logs, err := h.service.ListActivityLogs(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list activity logs", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Error fetching activity logs")
		return
	}

	span.SetStatus(codes.Ok, "Activity logs listed")
	api.WriteJSONResponse(w, r, http.StatusOK, logs)
}

// ListPaymentHistory handles GET /api/payment-history.
// Query params: userId (optional), limit (default 10).
func (h *HandlerImpl) ListPaymentHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("DashboardHandler").Start(r.Context(), "ListPaymentHistory")
	defer span.End()

	limit := queryInt(r, "limit", 10)

	var userID *uuid.UUID
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			span.SetStatus(codes.Error, "Invalid user id")
			api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid userId")
			return
		}
		userID = &id
	}

	payments, err := h.service.ListPaymentHistory(ctx, userID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list payment history", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Error fetching payment history")
		return
	}

	span.SetStatus(codes.Ok, "Payment history listed")
	api.WriteJSONResponse(w, r, http.StatusOK, payments)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
