package subscription

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-subscription-billing/internal/api"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

// HandlerImpl translates HTTP requests into lifecycle engine calls.
type HandlerImpl struct {
	service SubscriptionService
	logger  *slog.Logger
}

func NewHandlerImpl(service SubscriptionService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		service: service,
		logger:  logger,
	}
}

// CreateSubscription handles POST /api/create-subscription.
// Both outcomes respond 200: a fresh subscription returns the gateway
// ids, an existing active one is returned as-is.
func (h *HandlerImpl) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("SubscriptionHandler").Start(r.Context(), "CreateSubscription", trace.WithAttributes(
		semconvAttrs(r)...,
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "CreateSubscription"))

	var req api.CreateSubscriptionRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Invalid request body", slog.Any("error", err))
		span.SetStatus(codes.Error, "Invalid request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.CreateForUser(ctx, req.Email, req.Username)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, types.ErrValidation):
			span.SetStatus(codes.Error, "Validation failed")
			api.ErrorResponse(w, r, http.StatusBadRequest, "Email and username are required")
		default:
			l.ErrorContext(ctx, "Failed to create subscription", slog.Any("error", err))
			span.SetStatus(codes.Error, "Create failed")
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to create subscription")
		}
		return
	}

	if !result.Created {
		span.SetStatus(codes.Ok, "Existing subscription returned")
		api.WriteJSONResponse(w, r, http.StatusOK, api.ExistingSubscriptionResponse{
			Message:      "User already has an active subscription",
			Subscription: result.Subscription,
		})
		return
	}

	span.SetStatus(codes.Ok, "Subscription created")
	span.SetAttributes(attribute.String("subscription.id", result.Subscription.ID.String()))
	api.WriteJSONResponse(w, r, http.StatusOK, api.CreateSubscriptionResponse{
		SubscriptionID: result.GatewaySubscriptionID,
		ClientSecret:   result.ClientSecret,
	})
}

// RequestCancel handles POST /api/subscriptions/{id}/cancel.
func (h *HandlerImpl) RequestCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("SubscriptionHandler").Start(r.Context(), "RequestCancel", trace.WithAttributes(
		semconvAttrs(r)...,
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "RequestCancel"))

	id, ok := h.parseID(w, r, span)
	if !ok {
		return
	}

	sub, err := h.service.RequestCancel(ctx, id)
	if err != nil {
		h.writeTransitionError(ctx, l, w, r, span, err, "Subscription is not active")
		return
	}

	span.SetStatus(codes.Ok, "Cancellation requested")
	api.WriteJSONResponse(w, r, http.StatusOK, sub)
}

// Reactivate handles POST /api/subscriptions/{id}/reactivate.
func (h *HandlerImpl) Reactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("SubscriptionHandler").Start(r.Context(), "Reactivate", trace.WithAttributes(
		semconvAttrs(r)...,
	))
	defer span.End()

	l := h.logger.With(slog.String("handler", "Reactivate"))

	id, ok := h.parseID(w, r, span)
	if !ok {
		return
	}

	sub, err := h.service.Reactivate(ctx, id)
	if err != nil {
		h.writeTransitionError(ctx, l, w, r, span, err, "Subscription cannot be reactivated")
		return
	}

	span.SetStatus(codes.Ok, "Subscription reactivated")
	api.WriteJSONResponse(w, r, http.StatusOK, sub)
}

func (h *HandlerImpl) parseID(w http.ResponseWriter, r *http.Request, span trace.Span) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		span.SetStatus(codes.Error, "Invalid subscription id")
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid subscription id")
		return uuid.Nil, false
	}
	span.SetAttributes(attribute.String("subscription.id", id.String()))
	return id, true
}

func (h *HandlerImpl) writeTransitionError(ctx context.Context, l *slog.Logger, w http.ResponseWriter, r *http.Request, span trace.Span, err error, conflictMsg string) {
	span.RecordError(err)
	switch {
	case errors.Is(err, types.ErrNotFound):
		span.SetStatus(codes.Error, "Subscription not found")
		api.ErrorResponse(w, r, http.StatusNotFound, "Subscription not found")
	case errors.Is(err, types.ErrConflict):
		span.SetStatus(codes.Error, "Conflicting state")
		api.ErrorResponse(w, r, http.StatusConflict, conflictMsg)
	default:
		l.ErrorContext(ctx, "Transition failed", slog.Any("error", err))
		span.SetStatus(codes.Error, "Transition failed")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to update subscription")
	}
}

func semconvAttrs(r *http.Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("http.route", r.URL.Path),
	}
}
