package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Make fields public so they can be accessed from other packages.
type AppMetrics struct {
	ChargesAttemptedTotal metric.Int64Counter
	ChargesFailedTotal    metric.Int64Counter
	RenewalsTotal         metric.Int64Counter
	ExpirationsTotal      metric.Int64Counter
	RenewalBatchSeconds   metric.Float64Histogram
	WSClientsConnected    metric.Int64UpDownCounter
}

var (
	// Global instance of AppMetrics (initialized once)
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("SubscriptionBillingAPI")
		var err error
		m := &AppMetrics{}

		m.ChargesAttemptedTotal, err = meter.Int64Counter(
			"charges_attempted_total",
			metric.WithDescription("Total number of gateway charge attempts"),
			metric.WithUnit("{charge}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create charges_attempted_total: %v", err)
		}

		m.ChargesFailedTotal, err = meter.Int64Counter(
			"charges_failed_total",
			metric.WithDescription("Total number of declined or errored charges"),
			metric.WithUnit("{charge}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create charges_failed_total: %v", err)
		}

		m.RenewalsTotal, err = meter.Int64Counter(
			"renewals_total",
			metric.WithDescription("Total number of successful subscription renewals"),
			metric.WithUnit("{renewal}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create renewals_total: %v", err)
		}

		m.ExpirationsTotal, err = meter.Int64Counter(
			"expirations_total",
			metric.WithDescription("Total number of subscriptions moved to inactive"),
			metric.WithUnit("{subscription}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create expirations_total: %v", err)
		}

		m.RenewalBatchSeconds, err = meter.Float64Histogram(
			"renewal_batch_duration_seconds",
			metric.WithDescription("Duration of one scheduler renewal batch"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create renewal_batch_duration_seconds: %v", err)
		}

		m.WSClientsConnected, err = meter.Int64UpDownCounter(
			"ws_clients_connected",
			metric.WithDescription("Currently connected websocket dashboard clients"),
			metric.WithUnit("{client}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create ws_clients_connected: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		panic("metrics.InitAppMetrics must be called at startup before Get")
	}
	return appMetrics
}
