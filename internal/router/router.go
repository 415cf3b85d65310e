package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/FACorreiaa/go-subscription-billing/internal/api/dashboard"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/subscription"
	"github.com/FACorreiaa/go-subscription-billing/internal/notify"
)

// Config contains the handlers the router mounts.
type Config struct {
	SubscriptionHandler *subscription.HandlerImpl
	DashboardHandler    *dashboard.HandlerImpl
	Hub                 *notify.Hub
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are applied
// before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	// Dashboard websocket. The path is shared with the frontend's
	// useWebSocket hook, which reconnects here on drop.
	r.Get("/ws", cfg.Hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/create-subscription", cfg.SubscriptionHandler.CreateSubscription)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", cfg.DashboardHandler.ListSubscriptions)
			r.Post("/{id}/cancel", cfg.SubscriptionHandler.RequestCancel)
			r.Post("/{id}/reactivate", cfg.SubscriptionHandler.Reactivate)
		})

		r.Get("/dashboard/metrics", cfg.DashboardHandler.GetMetrics)
		r.Get("/activity-logs", cfg.DashboardHandler.ListActivityLogs)
		r.Get("/payment-history", cfg.DashboardHandler.ListPaymentHistory)
	})

	return r
}
