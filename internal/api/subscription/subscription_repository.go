package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-subscription-billing/internal/api"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

var _ SubscriptionRepo = (*PostgresSubscriptionRepo)(nil)

// SubscriptionRepo defines the contract for subscription persistence.
// All state transitions are conditioned on the expected prior status so
// a concurrent transition surfaces as types.ErrConflict instead of being
// silently overwritten.
type SubscriptionRepo interface {
	// GetByID retrieves a subscription by id.
	// Returns types.ErrNotFound if it doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*types.Subscription, error)

	// GetActiveByUserID retrieves the user's active subscription, if any.
	// Returns types.ErrNotFound when the user has none.
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*types.Subscription, error)

	// CreateIfNoneActive inserts a new subscription unless the user already
	// has an active one, in which case the existing row is returned with
	// created=false. The check and insert run in one transaction with the
	// existing row locked FOR UPDATE.
	CreateIfNoneActive(ctx context.Context, params types.CreateSubscriptionParams) (sub *types.Subscription, created bool, err error)

	// MarkPendingOff transitions active -> pending_off without touching the
	// paid window. Returns types.ErrNotFound for an unknown id and
	// types.ErrConflict when the row is no longer active.
	MarkPendingOff(ctx context.Context, id uuid.UUID) (*types.Subscription, error)

	// Reactivate transitions any status back to active with a fresh paid
	// window ending at windowEnd. Returns types.ErrNotFound for an unknown id.
	Reactivate(ctx context.Context, id uuid.UUID, windowEnd time.Time) (*types.Subscription, error)

	// AdvanceWindow moves subscription_end and next_renewal to newEnd for an
	// active subscription. Returns types.ErrConflict when the row stopped
	// being active, types.ErrNotFound when it is gone.
	AdvanceWindow(ctx context.Context, id uuid.UUID, newEnd time.Time) (*types.Subscription, error)

	// Expire transitions pending_off -> inactive and clears next_renewal,
	// but only when the paid window has already ended at now.
	Expire(ctx context.Context, id uuid.UUID, now time.Time) (*types.Subscription, error)

	// ListDueForRenewal returns active subscriptions whose next_renewal has
	// passed at now.
	ListDueForRenewal(ctx context.Context, now time.Time) ([]types.Subscription, error)

	// ListExpired returns pending_off subscriptions whose window ended at now.
	ListExpired(ctx context.Context, now time.Time) ([]types.Subscription, error)

	// AppendPaymentHistory inserts one immutable charge-attempt record.
	AppendPaymentHistory(ctx context.Context, params types.CreatePaymentHistoryParams) (*types.PaymentHistory, error)

	// AppendActivityLog inserts one immutable audit record.
	AppendActivityLog(ctx context.Context, params types.CreateActivityLogParams) (*types.ActivityLog, error)
}

type PostgresSubscriptionRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewPostgresSubscriptionRepo(pgpool api.PGXPool, logger *slog.Logger) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const subscriptionColumns = `id, user_id, status, subscription_start, subscription_end, next_renewal,
	payment_method, last_payment_amount, is_recurring, created_at, updated_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Status,
		&s.SubscriptionStart,
		&s.SubscriptionEnd,
		&s.NextRenewal,
		&s.PaymentMethod,
		&s.LastPaymentAmount,
		&s.IsRecurring,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]types.Subscription, error) {
	defer rows.Close()
	var subs []types.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func (r *PostgresSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "GetByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.subscription.id", id.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetByID"), slog.String("subscriptionID", id.String()))
	l.DebugContext(ctx, "Fetching subscription")

	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)
	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Subscription not found")
			return nil, fmt.Errorf("subscription not found: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching subscription: %w", err)
	}

	span.SetStatus(codes.Ok, "Subscription fetched")
	return s, nil
}

func (r *PostgresSubscriptionRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "GetActiveByUserID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetActiveByUserID"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Fetching active subscription for user")

	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`, subscriptionColumns)

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "No active subscription")
			return nil, fmt.Errorf("no active subscription: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query active subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching active subscription: %w", err)
	}

	span.SetStatus(codes.Ok, "Active subscription fetched")
	return s, nil
}

func (r *PostgresSubscriptionRepo) CreateIfNoneActive(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, bool, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "CreateIfNoneActive", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.user.id", params.UserID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "CreateIfNoneActive"), slog.String("userID", params.UserID.String()))
	l.DebugContext(ctx, "Creating subscription unless one is active")

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "BEGIN failed")
		return nil, false, fmt.Errorf("database error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	lockQuery := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, subscriptionColumns)

	existing, err := scanSubscription(tx.QueryRow(ctx, lockQuery, params.UserID))
	if err == nil {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			span.RecordError(commitErr)
			span.SetStatus(codes.Error, "COMMIT failed")
			return nil, false, fmt.Errorf("database error committing transaction: %w", commitErr)
		}
		l.InfoContext(ctx, "User already has an active subscription", slog.String("subscriptionID", existing.ID.String()))
		span.SetStatus(codes.Ok, "Existing active subscription returned")
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		l.ErrorContext(ctx, "Failed to check for active subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, false, fmt.Errorf("database error checking active subscription: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO subscriptions
			(user_id, status, subscription_start, subscription_end, next_renewal,
			 payment_method, last_payment_amount, is_recurring, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING %s`, subscriptionColumns)

	s, err := scanSubscription(tx.QueryRow(ctx, insertQuery,
		params.UserID,
		params.Status,
		params.SubscriptionStart,
		params.SubscriptionEnd,
		params.NextRenewal,
		params.PaymentMethod,
		params.LastPaymentAmount,
		params.IsRecurring,
	))
	if err != nil {
		l.ErrorContext(ctx, "Failed to insert subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, false, fmt.Errorf("database error creating subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "COMMIT failed")
		return nil, false, fmt.Errorf("database error committing transaction: %w", err)
	}

	l.InfoContext(ctx, "Subscription created", slog.String("subscriptionID", s.ID.String()))
	span.SetStatus(codes.Ok, "Subscription created")
	return s, true, nil
}

// conditionalTransition runs a status-conditioned UPDATE and disambiguates
// "row gone" from "row no longer in the expected state".
func (r *PostgresSubscriptionRepo) conditionalTransition(ctx context.Context, l *slog.Logger, span trace.Span, id uuid.UUID, query string, args ...interface{}) (*types.Subscription, error) {
	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, args...))
	if err == nil {
		span.SetStatus(codes.Ok, "Transition applied")
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		l.ErrorContext(ctx, "Failed to apply transition", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("database error applying transition: %w", err)
	}

	var exists bool
	if checkErr := r.pgpool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
		l.ErrorContext(ctx, "Failed to check subscription existence", slog.Any("error", checkErr))
		span.RecordError(checkErr)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error checking subscription: %w", checkErr)
	}
	if !exists {
		span.SetStatus(codes.Error, "Subscription not found")
		return nil, fmt.Errorf("subscription not found: %w", types.ErrNotFound)
	}
	l.WarnContext(ctx, "Transition lost against concurrent update")
	span.SetStatus(codes.Error, "Concurrent transition won")
	return nil, fmt.Errorf("subscription no longer in expected status: %w", types.ErrConflict)
}

func (r *PostgresSubscriptionRepo) MarkPendingOff(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "MarkPendingOff", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.subscription.id", id.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "MarkPendingOff"), slog.String("subscriptionID", id.String()))
	l.DebugContext(ctx, "Marking subscription pending_off")

	query := fmt.Sprintf(`
		UPDATE subscriptions
		SET status = 'pending_off', updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING %s`, subscriptionColumns)

	return r.conditionalTransition(ctx, l, span, id, query, id)
}

func (r *PostgresSubscriptionRepo) Reactivate(ctx context.Context, id uuid.UUID, windowEnd time.Time) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Reactivate", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.subscription.id", id.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Reactivate"), slog.String("subscriptionID", id.String()))
	l.DebugContext(ctx, "Reactivating subscription")

	// A fresh window, not an extension of the old one. The start is left
	// alone so history shows when this lifecycle began.
	query := fmt.Sprintf(`
		UPDATE subscriptions
		SET status = 'active', subscription_end = $2, next_renewal = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, subscriptionColumns)

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, id, windowEnd))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Subscription not found")
			return nil, fmt.Errorf("subscription not found: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to reactivate subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("database error reactivating subscription: %w", err)
	}

	span.SetStatus(codes.Ok, "Subscription reactivated")
	return s, nil
}

func (r *PostgresSubscriptionRepo) AdvanceWindow(ctx context.Context, id uuid.UUID, newEnd time.Time) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "AdvanceWindow", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.subscription.id", id.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "AdvanceWindow"), slog.String("subscriptionID", id.String()))
	l.DebugContext(ctx, "Advancing subscription window", slog.Time("new_end", newEnd))

	query := fmt.Sprintf(`
		UPDATE subscriptions
		SET subscription_end = $2, next_renewal = $2, updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING %s`, subscriptionColumns)

	return r.conditionalTransition(ctx, l, span, id, query, id, newEnd)
}

func (r *PostgresSubscriptionRepo) Expire(ctx context.Context, id uuid.UUID, now time.Time) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Expire", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.subscription.id", id.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Expire"), slog.String("subscriptionID", id.String()))
	l.DebugContext(ctx, "Expiring subscription")

	query := fmt.Sprintf(`
		UPDATE subscriptions
		SET status = 'inactive', next_renewal = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending_off' AND subscription_end <= $2
		RETURNING %s`, subscriptionColumns)

	return r.conditionalTransition(ctx, l, span, id, query, id, now)
}

func (r *PostgresSubscriptionRepo) ListDueForRenewal(ctx context.Context, now time.Time) ([]types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "ListDueForRenewal", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ListDueForRenewal"))
	l.DebugContext(ctx, "Listing subscriptions due for renewal")

	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE status = 'active' AND next_renewal IS NOT NULL AND next_renewal <= $1
		ORDER BY next_renewal`, subscriptionColumns)

	rows, err := r.pgpool.Query(ctx, query, now)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list due subscriptions", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error listing due subscriptions: %w", err)
	}

	subs, err := collectSubscriptions(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row scan failed")
		return nil, fmt.Errorf("database error scanning due subscriptions: %w", err)
	}

	span.SetStatus(codes.Ok, "Due subscriptions listed")
	span.SetAttributes(attribute.Int("subscriptions.due", len(subs)))
	return subs, nil
}

func (r *PostgresSubscriptionRepo) ListExpired(ctx context.Context, now time.Time) ([]types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "ListExpired", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ListExpired"))
	l.DebugContext(ctx, "Listing expired subscriptions")

	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE status = 'pending_off' AND subscription_end <= $1
		ORDER BY subscription_end`, subscriptionColumns)

	rows, err := r.pgpool.Query(ctx, query, now)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list expired subscriptions", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error listing expired subscriptions: %w", err)
	}

	subs, err := collectSubscriptions(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row scan failed")
		return nil, fmt.Errorf("database error scanning expired subscriptions: %w", err)
	}

	span.SetStatus(codes.Ok, "Expired subscriptions listed")
	span.SetAttributes(attribute.Int("subscriptions.expired", len(subs)))
	return subs, nil
}

func (r *PostgresSubscriptionRepo) AppendPaymentHistory(ctx context.Context, params types.CreatePaymentHistoryParams) (*types.PaymentHistory, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "AppendPaymentHistory", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "payment_history"),
		attribute.String("db.subscription.id", params.SubscriptionID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "AppendPaymentHistory"), slog.String("subscriptionID", params.SubscriptionID.String()))
	l.DebugContext(ctx, "Appending payment history", slog.String("status", string(params.Status)))

	currency := params.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}

	query := `
		INSERT INTO payment_history
			(user_id, subscription_id, amount, currency, status, gateway_payment_intent_id, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, user_id, subscription_id, amount, currency, status, gateway_payment_intent_id, failure_reason, processed_at`

	var p types.PaymentHistory
	err := r.pgpool.QueryRow(ctx, query,
		params.UserID,
		params.SubscriptionID,
		params.Amount,
		currency,
		params.Status,
		params.GatewayPaymentIntentID,
		params.FailureReason,
	).Scan(
		&p.ID,
		&p.UserID,
		&p.SubscriptionID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.GatewayPaymentIntentID,
		&p.FailureReason,
		&p.ProcessedAt,
	)
	if err != nil {
		l.ErrorContext(ctx, "Failed to insert payment history", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error appending payment history: %w", err)
	}

	span.SetStatus(codes.Ok, "Payment history appended")
	return &p, nil
}

func (r *PostgresSubscriptionRepo) AppendActivityLog(ctx context.Context, params types.CreateActivityLogParams) (*types.ActivityLog, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "AppendActivityLog", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "activity_logs"),
		attribute.String("activity.action", string(params.Action)),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "AppendActivityLog"), slog.String("action", string(params.Action)))
	l.DebugContext(ctx, "Appending activity log")

	query := `
		INSERT INTO activity_logs (user_id, action, description, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, action, description, metadata, created_at`

	var a types.ActivityLog
	err := r.pgpool.QueryRow(ctx, query,
		params.UserID,
		params.Action,
		params.Description,
		params.Metadata,
	).Scan(
		&a.ID,
		&a.UserID,
		&a.Action,
		&a.Description,
		&a.Metadata,
		&a.CreatedAt,
	)
	if err != nil {
		l.ErrorContext(ctx, "Failed to insert activity log", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error appending activity log: %w", err)
	}

	span.SetStatus(codes.Ok, "Activity log appended")
	return &a, nil
}
