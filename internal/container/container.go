package container

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/FACorreiaa/go-subscription-billing/app/db"
	"github.com/FACorreiaa/go-subscription-billing/app/observability/metrics"
	"github.com/FACorreiaa/go-subscription-billing/config"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/dashboard"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/subscription"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/user"
	"github.com/FACorreiaa/go-subscription-billing/internal/gateway"
	"github.com/FACorreiaa/go-subscription-billing/internal/notify"
	"github.com/FACorreiaa/go-subscription-billing/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	Config              *config.Config
	Logger              *slog.Logger
	Pool                *pgxpool.Pool
	Hub                 *notify.Hub
	Scheduler           *scheduler.Scheduler
	SubscriptionHandler *subscription.HandlerImpl
	DashboardHandler    *dashboard.HandlerImpl
}

// NewContainer initializes and returns a new dependency container
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	appMetrics := metrics.Get()
	hub := notify.NewHub(logger, appMetrics)

	gw := gateway.NewMockGateway(cfg.Gateway.SuccessRate, cfg.Gateway.Latency, logger)

	userRepo := user.NewPostgresUserRepo(pool, logger)
	subscriptionRepo := subscription.NewPostgresSubscriptionRepo(pool, logger)
	subscriptionService := subscription.NewSubscriptionService(
		subscriptionRepo, userRepo, gw, hub, appMetrics, cfg.Gateway.ChargeTimeout, logger)
	subscriptionHandler := subscription.NewHandlerImpl(subscriptionService, logger)

	dashboardRepo := dashboard.NewPostgresDashboardRepo(pool, logger)
	dashboardService := dashboard.NewDashboardService(dashboardRepo, logger)
	dashboardHandler := dashboard.NewHandlerImpl(dashboardService, logger)

	sched := scheduler.New(subscriptionService,
		cfg.Scheduler.RenewalInterval, cfg.Scheduler.ExpiryInterval, logger)

	return &Container{
		Config:              cfg,
		Logger:              logger,
		Pool:                pool,
		Hub:                 hub,
		Scheduler:           sched,
		SubscriptionHandler: subscriptionHandler,
		DashboardHandler:    dashboardHandler,
	}, nil
}

// Close releases the resources the container owns.
func (c *Container) Close() {
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
