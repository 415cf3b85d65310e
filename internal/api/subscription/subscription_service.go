package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-subscription-billing/app/observability/metrics"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/user"
	"github.com/FACorreiaa/go-subscription-billing/internal/gateway"
	"github.com/FACorreiaa/go-subscription-billing/internal/notify"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

var _ SubscriptionService = (*SubscriptionServiceImpl)(nil)

// placeholderPassword is set on users provisioned through the subscribe
// flow. There is no login surface; the column exists for schema parity.
const placeholderPassword = "temp_password"

// defaultPaymentMethod recorded on subscriptions created by this service.
const defaultPaymentMethod = "card"

// CreateResult is the outcome of CreateForUser. When the user already had
// an active subscription, Created is false and the gateway fields are
// empty: no provisioning happened.
type CreateResult struct {
	Created               bool
	Subscription          *types.Subscription
	GatewaySubscriptionID string
	ClientSecret          string
}

// RenewOutcome reports what a single renewal attempt did.
type RenewOutcome struct {
	Charged      bool
	Advanced     bool
	Subscription *types.Subscription
}

// SubscriptionService is the lifecycle engine. Every transition it applies
// also appends the matching audit row and broadcasts a change event.
type SubscriptionService interface {
	// CreateForUser provisions the user if needed and starts a 24h
	// subscription. Idempotent: an existing active subscription is
	// returned untouched.
	CreateForUser(ctx context.Context, email, username string) (*CreateResult, error)

	// RequestCancel moves an active subscription to pending_off. The paid
	// window is not shortened.
	RequestCancel(ctx context.Context, id uuid.UUID) (*types.Subscription, error)

	// Reactivate returns a subscription to active with a fresh 24h window.
	Reactivate(ctx context.Context, id uuid.UUID) (*types.Subscription, error)

	// Renew charges one renewal for the subscription. A declined charge is
	// not an error: the failure is recorded and the subscription is left
	// untouched.
	Renew(ctx context.Context, id uuid.UUID, now time.Time) (*RenewOutcome, error)

	// Expire moves a pending_off subscription whose window has ended to
	// inactive. Returns types.ErrConflict when the subscription no longer
	// qualifies.
	Expire(ctx context.Context, id uuid.UUID, now time.Time) (*types.Subscription, error)

	// ProcessDueRenewals renews every subscription whose next_renewal has
	// passed. Failures on one subscription never abort the batch.
	ProcessDueRenewals(ctx context.Context) error

	// ProcessExpirations expires every pending_off subscription whose paid
	// window has ended.
	ProcessExpirations(ctx context.Context) error
}

type SubscriptionServiceImpl struct {
	logger        *slog.Logger
	repo          SubscriptionRepo
	userRepo      user.UserRepo
	gateway       gateway.Gateway
	notifier      notify.Notifier
	metrics       *metrics.AppMetrics
	chargeTimeout time.Duration

	// now is swapped in tests to pin the clock.
	now func() time.Time
}

func NewSubscriptionService(
	repo SubscriptionRepo,
	userRepo user.UserRepo,
	gw gateway.Gateway,
	notifier notify.Notifier,
	appMetrics *metrics.AppMetrics,
	chargeTimeout time.Duration,
	logger *slog.Logger,
) *SubscriptionServiceImpl {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if chargeTimeout <= 0 {
		chargeTimeout = 5 * time.Second
	}
	return &SubscriptionServiceImpl{
		logger:        logger,
		repo:          repo,
		userRepo:      userRepo,
		gateway:       gw,
		notifier:      notifier,
		metrics:       appMetrics,
		chargeTimeout: chargeTimeout,
		now:           time.Now,
	}
}

func (s *SubscriptionServiceImpl) CreateForUser(ctx context.Context, email, username string) (*CreateResult, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "CreateForUser", trace.WithAttributes(
		attribute.String("user.email", email),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CreateForUser"), slog.String("email", email))

	if email == "" || username == "" {
		span.SetStatus(codes.Error, "Missing email or username")
		return nil, fmt.Errorf("email and username are required: %w", types.ErrValidation)
	}

	u, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "User lookup failed")
			return nil, err
		}
		u, err = s.userRepo.CreateUser(ctx, types.CreateUserParams{
			Username: username,
			Email:    email,
			Password: placeholderPassword,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "User provisioning failed")
			return nil, err
		}
		l.InfoContext(ctx, "Provisioned new user", slog.String("userID", u.ID.String()))
	}

	// Idempotency fast path. The transactional create below closes the
	// race with a concurrent request for the same user.
	if existing, err := s.repo.GetActiveByUserID(ctx, u.ID); err == nil {
		l.InfoContext(ctx, "Active subscription already exists", slog.String("subscriptionID", existing.ID.String()))
		span.SetStatus(codes.Ok, "Existing active subscription returned")
		return &CreateResult{Created: false, Subscription: existing}, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Active subscription lookup failed")
		return nil, err
	}

	customerID := ""
	if u.GatewayCustomerID != nil {
		customerID = *u.GatewayCustomerID
	} else {
		customerID, err = s.gateway.CreateCustomer(ctx, u.Email, u.Username)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Gateway customer provisioning failed")
			return nil, fmt.Errorf("failed to provision gateway customer: %w", err)
		}
	}

	gwSubID, clientSecret, err := s.gateway.CreateSubscription(ctx, customerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Gateway subscription provisioning failed")
		return nil, fmt.Errorf("failed to provision gateway subscription: %w", err)
	}

	if _, err := s.userRepo.UpdateGatewayInfo(ctx, u.ID, customerID, &gwSubID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to persist gateway references")
		return nil, err
	}

	start := s.now()
	end := start.Add(types.RenewalWindow)
	amount := types.DefaultPaymentAmount
	method := defaultPaymentMethod

	sub, created, err := s.repo.CreateIfNoneActive(ctx, types.CreateSubscriptionParams{
		UserID:            u.ID,
		Status:            types.SubscriptionStatusActive,
		SubscriptionStart: start,
		SubscriptionEnd:   end,
		NextRenewal:       &end,
		PaymentMethod:     &method,
		LastPaymentAmount: &amount,
		IsRecurring:       true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Subscription insert failed")
		return nil, err
	}
	if !created {
		// Lost the race to a concurrent subscribe. Behave like the fast
		// path; the orphaned gateway objects are harmless mocks.
		l.WarnContext(ctx, "Concurrent subscribe won, returning existing subscription", slog.String("subscriptionID", sub.ID.String()))
		span.SetStatus(codes.Ok, "Existing active subscription returned")
		return &CreateResult{Created: false, Subscription: sub}, nil
	}

	s.appendActivity(ctx, l, types.CreateActivityLogParams{
		UserID:      u.ID,
		Action:      types.ActionSubscriptionCreated,
		Description: fmt.Sprintf("Subscription created for %s", u.Email),
	})
	s.notifier.Broadcast(notify.Event{
		Type:   notify.EventSubscriptionCreated,
		UserID: u.ID.String(),
	})

	l.InfoContext(ctx, "Subscription created",
		slog.String("subscriptionID", sub.ID.String()),
		slog.String("userID", u.ID.String()))
	span.SetStatus(codes.Ok, "Subscription created")
	return &CreateResult{
		Created:               true,
		Subscription:          sub,
		GatewaySubscriptionID: gwSubID,
		ClientSecret:          clientSecret,
	}, nil
}

func (s *SubscriptionServiceImpl) RequestCancel(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "RequestCancel", trace.WithAttributes(
		attribute.String("subscription.id", id.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "RequestCancel"), slog.String("subscriptionID", id.String()))

	sub, err := s.repo.MarkPendingOff(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cancel request failed")
		return nil, err
	}

	s.appendActivity(ctx, l, types.CreateActivityLogParams{
		UserID:      sub.UserID,
		Action:      types.ActionSubscriptionCancelReq,
		Description: "Subscription cancellation requested, will expire at period end",
	})
	s.notifier.Broadcast(notify.Event{
		Type:           notify.EventSubscriptionUpdated,
		SubscriptionID: sub.ID.String(),
	})

	l.InfoContext(ctx, "Subscription marked pending_off", slog.Time("runs_until", sub.SubscriptionEnd))
	span.SetStatus(codes.Ok, "Cancellation requested")
	return sub, nil
}

func (s *SubscriptionServiceImpl) Reactivate(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Reactivate", trace.WithAttributes(
		attribute.String("subscription.id", id.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Reactivate"), slog.String("subscriptionID", id.String()))

	windowEnd := s.now().Add(types.RenewalWindow)
	sub, err := s.repo.Reactivate(ctx, id, windowEnd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Reactivate failed")
		return nil, err
	}

	s.appendActivity(ctx, l, types.CreateActivityLogParams{
		UserID:      sub.UserID,
		Action:      types.ActionSubscriptionReactivated,
		Description: "Subscription reactivated",
	})
	s.notifier.Broadcast(notify.Event{
		Type:           notify.EventSubscriptionUpdated,
		SubscriptionID: sub.ID.String(),
	})

	l.InfoContext(ctx, "Subscription reactivated", slog.Time("new_end", sub.SubscriptionEnd))
	span.SetStatus(codes.Ok, "Subscription reactivated")
	return sub, nil
}

func (s *SubscriptionServiceImpl) Renew(ctx context.Context, id uuid.UUID, now time.Time) (*RenewOutcome, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Renew", trace.WithAttributes(
		attribute.String("subscription.id", id.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Renew"), slog.String("subscriptionID", id.String()))

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Subscription lookup failed")
		return nil, err
	}
	if sub.Status != types.SubscriptionStatusActive {
		span.SetStatus(codes.Error, "Subscription not active")
		return nil, fmt.Errorf("subscription is not active: %w", types.ErrConflict)
	}

	u, err := s.userRepo.GetUserByID(ctx, sub.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return nil, err
	}
	if u.GatewayCustomerID == nil {
		// Nothing to bill against. Leave the subscription alone rather
		// than inventing a charge that cannot clear.
		l.WarnContext(ctx, "User has no gateway customer, skipping renewal", slog.String("userID", u.ID.String()))
		span.SetStatus(codes.Ok, "No gateway customer")
		return &RenewOutcome{Subscription: sub}, nil
	}

	amount := sub.ChargeAmount()
	chargeCtx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.ChargesAttemptedTotal.Add(ctx, 1)
	}
	result, err := s.gateway.Charge(chargeCtx, amount, types.DefaultCurrency, *u.GatewayCustomerID)
	if err != nil {
		// Transport failure, not a decline. Record it like a failed
		// payment so the dashboard surfaces it.
		result = &gateway.ChargeResult{Succeeded: false, FailureReason: err.Error()}
	}

	if !result.Succeeded {
		if s.metrics != nil {
			s.metrics.ChargesFailedTotal.Add(ctx, 1)
		}
		reason := result.FailureReason
		var intentID *string
		if result.PaymentIntentID != "" {
			intentID = &result.PaymentIntentID
		}
		if _, err := s.repo.AppendPaymentHistory(ctx, types.CreatePaymentHistoryParams{
			UserID:                 sub.UserID,
			SubscriptionID:         sub.ID,
			Amount:                 amount,
			Currency:               types.DefaultCurrency,
			Status:                 types.PaymentStatusFailed,
			GatewayPaymentIntentID: intentID,
			FailureReason:          &reason,
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to record declined payment")
			return nil, err
		}
		s.appendActivity(ctx, l, types.CreateActivityLogParams{
			UserID:      sub.UserID,
			Action:      types.ActionPaymentFailed,
			Description: fmt.Sprintf("Payment failed: %s", reason),
		})
		// No subscription field changed; clients are only notified on
		// transitions.
		l.WarnContext(ctx, "Renewal charge declined", slog.String("reason", reason))
		span.SetStatus(codes.Ok, "Charge declined, failure recorded")
		return &RenewOutcome{Subscription: sub}, nil
	}

	// The new window is anchored to the previous end, never to the clock,
	// so a late scheduler run does not grant free time.
	newEnd := sub.SubscriptionEnd.Add(types.RenewalWindow)
	updated, err := s.repo.AdvanceWindow(ctx, id, newEnd)
	advanced := err == nil
	if err != nil {
		if !errors.Is(err, types.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Window advance failed")
			return nil, err
		}
		// A concurrent cancel or expiry won after the charge cleared. The
		// money moved, so the payment row is still written.
		l.WarnContext(ctx, "Subscription left active state during renewal, window not advanced")
		updated = sub
	}

	intentID := result.PaymentIntentID
	if _, err := s.repo.AppendPaymentHistory(ctx, types.CreatePaymentHistoryParams{
		UserID:                 sub.UserID,
		SubscriptionID:         sub.ID,
		Amount:                 amount,
		Currency:               types.DefaultCurrency,
		Status:                 types.PaymentStatusSucceeded,
		GatewayPaymentIntentID: &intentID,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to record payment")
		return nil, err
	}
	s.appendActivity(ctx, l, types.CreateActivityLogParams{
		UserID:      sub.UserID,
		Action:      types.ActionPaymentProcessed,
		Description: "Recurring payment processed successfully",
	})
	s.notifier.Broadcast(notify.Event{
		Type:           notify.EventSubscriptionUpdated,
		SubscriptionID: sub.ID.String(),
	})
	if advanced && s.metrics != nil {
		s.metrics.RenewalsTotal.Add(ctx, 1)
	}

	l.InfoContext(ctx, "Subscription renewed",
		slog.Float64("amount", amount),
		slog.Time("new_end", updated.SubscriptionEnd))
	span.SetStatus(codes.Ok, "Subscription renewed")
	return &RenewOutcome{Charged: true, Advanced: advanced, Subscription: updated}, nil
}

func (s *SubscriptionServiceImpl) Expire(ctx context.Context, id uuid.UUID, now time.Time) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Expire", trace.WithAttributes(
		attribute.String("subscription.id", id.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Expire"), slog.String("subscriptionID", id.String()))

	sub, err := s.repo.Expire(ctx, id, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Expire failed")
		return nil, err
	}

	s.appendActivity(ctx, l, types.CreateActivityLogParams{
		UserID:      sub.UserID,
		Action:      types.ActionSubscriptionExpired,
		Description: "Subscription expired and set to inactive",
	})
	s.notifier.Broadcast(notify.Event{
		Type:           notify.EventSubscriptionUpdated,
		SubscriptionID: sub.ID.String(),
	})
	if s.metrics != nil {
		s.metrics.ExpirationsTotal.Add(ctx, 1)
	}

	l.InfoContext(ctx, "Subscription expired")
	span.SetStatus(codes.Ok, "Subscription expired")
	return sub, nil
}

func (s *SubscriptionServiceImpl) ProcessDueRenewals(ctx context.Context) error {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "ProcessDueRenewals")
	defer span.End()

	l := s.logger.With(slog.String("method", "ProcessDueRenewals"))
	started := s.now()

	due, err := s.repo.ListDueForRenewal(ctx, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Due list failed")
		return err
	}
	if len(due) == 0 {
		span.SetStatus(codes.Ok, "Nothing due")
		return nil
	}
	l.InfoContext(ctx, "Processing due renewals", slog.Int("count", len(due)))

	var failed int
	for i := range due {
		if _, err := s.Renew(ctx, due[i].ID, started); err != nil {
			// ErrConflict means another actor moved the subscription
			// between the listing and the renewal. Not worth a log at
			// error level.
			if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
				l.DebugContext(ctx, "Skipping renewal, subscription changed underneath",
					slog.String("subscriptionID", due[i].ID.String()))
				continue
			}
			failed++
			l.ErrorContext(ctx, "Renewal failed",
				slog.String("subscriptionID", due[i].ID.String()),
				slog.Any("error", err))
		}
	}

	if s.metrics != nil {
		s.metrics.RenewalBatchSeconds.Record(ctx, time.Since(started).Seconds())
	}
	span.SetAttributes(attribute.Int("renewals.processed", len(due)), attribute.Int("renewals.failed", failed))
	span.SetStatus(codes.Ok, "Batch finished")
	return nil
}

func (s *SubscriptionServiceImpl) ProcessExpirations(ctx context.Context) error {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "ProcessExpirations")
	defer span.End()

	l := s.logger.With(slog.String("method", "ProcessExpirations"))
	now := s.now()

	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Expired list failed")
		return err
	}
	if len(expired) == 0 {
		span.SetStatus(codes.Ok, "Nothing to expire")
		return nil
	}
	l.InfoContext(ctx, "Processing expirations", slog.Int("count", len(expired)))

	for i := range expired {
		if _, err := s.Expire(ctx, expired[i].ID, now); err != nil {
			if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
				continue
			}
			l.ErrorContext(ctx, "Expiration failed",
				slog.String("subscriptionID", expired[i].ID.String()),
				slog.Any("error", err))
		}
	}

	span.SetAttributes(attribute.Int("expirations.processed", len(expired)))
	span.SetStatus(codes.Ok, "Batch finished")
	return nil
}

// appendActivity writes an audit row and only logs on failure. The audit
// trail is best effort relative to the transition that already committed.
func (s *SubscriptionServiceImpl) appendActivity(ctx context.Context, l *slog.Logger, params types.CreateActivityLogParams) {
	if _, err := s.repo.AppendActivityLog(ctx, params); err != nil {
		l.ErrorContext(ctx, "Failed to append activity log",
			slog.String("action", string(params.Action)),
			slog.Any("error", err))
	}
}
