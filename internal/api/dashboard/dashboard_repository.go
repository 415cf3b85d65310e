package dashboard

import (
	"context"
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
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/go-subscription-billing/internal/api"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

var _ DashboardRepo = (*PostgresDashboardRepo)(nil)

// DashboardRepo serves the read side of the admin dashboard. Nothing in
// here mutates state.
type DashboardRepo interface {
	// GetMetrics aggregates the dashboard cards. Revenue and failure
	// counts are bounded to [dayStart, dayEnd].
	GetMetrics(ctx context.Context, dayStart, dayEnd time.Time) (*types.DashboardMetrics, error)

	// ListSubscriptions returns one page of subscriptions joined with
	// their owners, most recently updated first. status filters when
	// non-empty and not "all".
	ListSubscriptions(ctx context.Context, page, limit int, status string) (*types.SubscriptionPage, error)

	// ListActivityLogs returns the most recent audit rows.
	ListActivityLogs(ctx context.Context, limit int) ([]types.ActivityLog, error)

	// ListPaymentHistory returns recent charge attempts, optionally
	// scoped to one user.
	ListPaymentHistory(ctx context.Context, userID *uuid.UUID, limit int) ([]types.PaymentHistory, error)
}

type PostgresDashboardRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewPostgresDashboardRepo(pgpool api.PGXPool, logger *slog.Logger) *PostgresDashboardRepo {
	return &PostgresDashboardRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresDashboardRepo) GetMetrics(ctx context.Context, dayStart, dayEnd time.Time) (*types.DashboardMetrics, error) {
	ctx, span := otel.Tracer("DashboardRepo").Start(ctx, "GetMetrics", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetMetrics"))
	l.DebugContext(ctx, "Aggregating dashboard metrics")

	var m types.DashboardMetrics
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.pgpool.QueryRow(gctx,
			`SELECT count(*) FROM subscriptions WHERE status = 'active'`,
		).Scan(&m.ActiveCount)
	})
	g.Go(func() error {
		return r.pgpool.QueryRow(gctx,
			`SELECT count(*) FROM subscriptions WHERE status = 'pending_off'`,
		).Scan(&m.PendingCount)
	})
	g.Go(func() error {
		return r.pgpool.QueryRow(gctx,
			`SELECT COALESCE(sum(amount), 0) FROM payment_history
			 WHERE status = 'succeeded' AND processed_at >= $1 AND processed_at <= $2`,
			dayStart, dayEnd,
		).Scan(&m.DailyRevenue)
	})
	g.Go(func() error {
		return r.pgpool.QueryRow(gctx,
			`SELECT count(*) FROM payment_history
			 WHERE status = 'failed' AND processed_at >= $1 AND processed_at <= $2`,
			dayStart, dayEnd,
		).Scan(&m.FailureCount)
	})

	if err := g.Wait(); err != nil {
		l.ErrorContext(ctx, "Failed to aggregate metrics", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Metric aggregation failed")
		return nil, fmt.Errorf("database error aggregating metrics: %w", err)
	}

	span.SetStatus(codes.Ok, "Metrics aggregated")
	return &m, nil
}

func (r *PostgresDashboardRepo) ListSubscriptions(ctx context.Context, page, limit int, status string) (*types.SubscriptionPage, error) {
	ctx, span := otel.Tracer("DashboardRepo").Start(ctx, "ListSubscriptions", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.Int("page", page),
		attribute.Int("limit", limit),
		attribute.String("status", status),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ListSubscriptions"))
	l.DebugContext(ctx, "Listing subscriptions", slog.Int("page", page), slog.Int("limit", limit))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit

	filter := ""
	args := []any{limit, offset}
	if status != "" && status != "all" {
		filter = "WHERE s.status = $3"
		args = append(args, status)
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.user_id, s.status, s.subscription_start, s.subscription_end, s.next_renewal,
		       s.payment_method, s.last_payment_amount, s.is_recurring, s.created_at, s.updated_at,
		       u.id, u.username, u.email, u.gateway_customer_id, u.gateway_subscription_id, u.created_at
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		%s
		ORDER BY s.updated_at DESC
		LIMIT $1 OFFSET $2`, filter)

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list subscriptions", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error listing subscriptions: %w", err)
	}

	items, err := collectSubscriptionsWithUsers(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row scan failed")
		return nil, fmt.Errorf("database error scanning subscriptions: %w", err)
	}

	countFilter := ""
	countArgs := []any{}
	if status != "" && status != "all" {
		countFilter = "WHERE status = $1"
		countArgs = append(countArgs, status)
	}
	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM subscriptions %s`, countFilter)
	if err := r.pgpool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		l.ErrorContext(ctx, "Failed to count subscriptions", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB COUNT failed")
		return nil, fmt.Errorf("database error counting subscriptions: %w", err)
	}

	span.SetStatus(codes.Ok, "Subscriptions listed")
	span.SetAttributes(attribute.Int("subscriptions.total", total))
	return &types.SubscriptionPage{Subscriptions: items, Total: total}, nil
}

func collectSubscriptionsWithUsers(rows pgx.Rows) ([]types.SubscriptionWithUser, error) {
	defer rows.Close()
	items := make([]types.SubscriptionWithUser, 0)
	for rows.Next() {
		var item types.SubscriptionWithUser
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Status,
			&item.SubscriptionStart,
			&item.SubscriptionEnd,
			&item.NextRenewal,
			&item.PaymentMethod,
			&item.LastPaymentAmount,
			&item.IsRecurring,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.User.ID,
			&item.User.Username,
			&item.User.Email,
			&item.User.GatewayCustomerID,
			&item.User.GatewaySubscriptionID,
			&item.User.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresDashboardRepo) ListActivityLogs(ctx context.Context, limit int) ([]types.ActivityLog, error) {
	ctx, span := otel.Tracer("DashboardRepo").Start(ctx, "ListActivityLogs", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.Int("limit", limit),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ListActivityLogs"))
	l.DebugContext(ctx, "Listing activity logs", slog.Int("limit", limit))

	if limit < 1 {
		limit = 10
	}

	rows, err := r.pgpool.Query(ctx, `
		SELECT id, user_id, action, description, metadata, created_at
		FROM activity_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list activity logs", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error listing activity logs: %w", err)
	}
	defer rows.Close()

	logs := make([]types.ActivityLog, 0)
	for rows.Next() {
		var a types.ActivityLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Description, &a.Metadata, &a.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Row scan failed")
			return nil, fmt.Errorf("database error scanning activity logs: %w", err)
		}
		logs = append(logs, a)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row iteration failed")
		return nil, fmt.Errorf("database error iterating activity logs: %w", err)
	}

	span.SetStatus(codes.Ok, "Activity logs listed")
	return logs, nil
}

func (r *PostgresDashboardRepo) ListPaymentHistory(ctx context.Context, userID *uuid.UUID, limit int) ([]types.PaymentHistory, error) {
	ctx, span := otel.Tracer("DashboardRepo").Start(ctx, "ListPaymentHistory", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.Int("limit", limit),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ListPaymentHistory"))
	l.DebugContext(ctx, "Listing payment history", slog.Int("limit", limit))

	if limit < 1 {
		limit = 10
	}

	query := `
		SELECT id, user_id, subscription_id, amount, currency, status,
		       gateway_payment_intent_id, failure_reason, processed_at
		FROM payment_history
		ORDER BY processed_at DESC
		LIMIT $1`
	args := []any{limit}
	if userID != nil {
		query = `
			SELECT id, user_id, subscription_id, amount, currency, status,
			       gateway_payment_intent_id, failure_reason, processed_at
			FROM payment_history
			WHERE user_id = $2
			ORDER BY processed_at DESC
			LIMIT $1`
		args = append(args, *userID)
		span.SetAttributes(attribute.String("user.id", userID.String()))
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list payment history", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error listing payment history: %w", err)
	}
	defer rows.Close()

	payments := make([]types.PaymentHistory, 0)
	for rows.Next() {
		var p types.PaymentHistory
		err := rows.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.Amount, &p.Currency, &p.Status,
			&p.GatewayPaymentIntentID, &p.FailureReason, &p.ProcessedAt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Row scan failed")
			return nil, fmt.Errorf("database error scanning payment history: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row iteration failed")
		return nil, fmt.Errorf("database error iterating payment history: %w", err)
	}

	span.SetStatus(codes.Ok, "Payment history listed")
	return payments, nil
}
