package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

var _ DashboardService = (*DashboardServiceImpl)(nil)

// metricsCacheTTL bounds how stale the dashboard cards may be. The
// frontend polls more often than this, so the cache absorbs the fan-out.
const metricsCacheTTL = 10 * time.Second

const metricsCacheKey = "dashboard:metrics"

// DashboardService serves the read endpoints of the admin dashboard.
type DashboardService interface {
	GetMetrics(ctx context.Context) (*types.DashboardMetrics, error)
	ListSubscriptions(ctx context.Context, page, limit int, status string) (*types.SubscriptionPage, error)
	ListActivityLogs(ctx context.Context, limit int) ([]types.ActivityLog, error)
	ListPaymentHistory(ctx context.Context, userID *uuid.UUID, limit int) ([]types.PaymentHistory, error)
}

type DashboardServiceImpl struct {
	logger *slog.Logger
	repo   DashboardRepo
	cache  *gocache.Cache

	// now is swapped in tests to pin the day boundaries.
	now func() time.Time
}

func NewDashboardService(repo DashboardRepo, logger *slog.Logger) *DashboardServiceImpl {
	return &DashboardServiceImpl{
		logger: logger,
		repo:   repo,
		cache:  gocache.New(metricsCacheTTL, time.Minute),
		now:    time.Now,
	}
}

func (s *DashboardServiceImpl) GetMetrics(ctx context.Context) (*types.DashboardMetrics, error) {
	ctx, span := otel.Tracer("DashboardService").Start(ctx, "GetMetrics")
	defer span.End()

	if cached, ok := s.cache.Get(metricsCacheKey); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		span.SetStatus(codes.Ok, "Metrics served from cache")
		return cached.(*types.DashboardMetrics), nil
	}

	// Revenue and failures are today's numbers in local server time,
	// matching how the dashboard labels them.
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	m, err := s.repo.GetMetrics(ctx, dayStart, dayEnd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Metric aggregation failed")
		return nil, err
	}

	s.cache.Set(metricsCacheKey, m, gocache.DefaultExpiration)
	span.SetAttributes(attribute.Bool("cache.hit", false))
	span.SetStatus(codes.Ok, "Metrics aggregated")
	return m, nil
}

func (s *DashboardServiceImpl) ListSubscriptions(ctx context.Context, page, limit int, status string) (*types.SubscriptionPage, error) {
	ctx, span := otel.Tracer("DashboardService").Start(ctx, "ListSubscriptions")
	defer span.End()

	pageResult, err := s.repo.ListSubscriptions(ctx, page, limit, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Subscriptions listed")
	return pageResult, nil
}

func (s *DashboardServiceImpl) ListActivityLogs(ctx context.Context, limit int) ([]types.ActivityLog, error) {
	ctx, span := otel.Tracer("DashboardService").Start(ctx, "ListActivityLogs")
	defer span.End()

	logs, err := s.repo.ListActivityLogs(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Activity logs listed")
	return logs, nil
}

func (s *DashboardServiceImpl) ListPaymentHistory(ctx context.Context, userID *uuid.UUID, limit int) ([]types.PaymentHistory, error) {
	ctx, span := otel.Tracer("DashboardService").Start(ctx, "ListPaymentHistory")
	defer span.End()

	payments, err := s.repo.ListPaymentHistory(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "List failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Payment history listed")
	return payments, nil
}
