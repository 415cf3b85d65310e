// Command seed loads a handful of demo users, subscriptions, and payment
// rows so the dashboard has something to show on a fresh database. Safe
// to re-run: users that already exist are skipped.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"

	database "github.com/FACorreiaa/go-subscription-billing/app/db"
	"github.com/FACorreiaa/go-subscription-billing/config"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/subscription"
	"github.com/FACorreiaa/go-subscription-billing/internal/api/user"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

type demoUser struct {
	email    string
	username string
}

var demoUsers = []demoUser{
	{email: "alice@example.com", username: "alice_smith"},
	{email: "bob@example.com", username: "bob_jones"},
	{email: "carol@example.com", username: "carol_davis"},
	{email: "dave@example.com", username: "dave_wilson"},
	{email: "eve@example.com", username: "eve_brown"},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := seed(ctx, user.NewPostgresUserRepo(pool, logger), subscription.NewPostgresSubscriptionRepo(pool, logger), logger); err != nil {
		logger.Error("Seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Database seeding completed successfully")
}

func seed(ctx context.Context, userRepo user.UserRepo, subRepo subscription.SubscriptionRepo, logger *slog.Logger) error {
	statuses := []types.SubscriptionStatus{
		types.SubscriptionStatusActive,
		types.SubscriptionStatusPendingOff,
		types.SubscriptionStatusInactive,
	}

	for _, d := range demoUsers {
		if _, err := userRepo.GetUserByEmail(ctx, d.email); err == nil {
			logger.Info("User already exists, skipping", slog.String("email", d.email))
			continue
		}

		customerID := demoRef("cus")
		u, err := userRepo.CreateUser(ctx, types.CreateUserParams{
			Username:          d.username,
			Email:             d.email,
			Password:          "demo_password",
			GatewayCustomerID: &customerID,
		})
		if err != nil {
			return fmt.Errorf("creating user %s: %w", d.email, err)
		}

		status := statuses[rand.Intn(len(statuses))]
		start := time.Now().Add(-time.Duration(rand.Int63n(int64(7 * 24 * time.Hour))))
		end := start.Add(types.RenewalWindow)
		var nextRenewal *time.Time
		if status == types.SubscriptionStatusActive {
			nextRenewal = &end
		}
		amount := types.DefaultPaymentAmount
		method := "card"

		sub, _, err := subRepo.CreateIfNoneActive(ctx, types.CreateSubscriptionParams{
			UserID:            u.ID,
			Status:            status,
			SubscriptionStart: start,
			SubscriptionEnd:   end,
			NextRenewal:       nextRenewal,
			PaymentMethod:     &method,
			LastPaymentAmount: &amount,
			IsRecurring:       true,
		})
		if err != nil {
			return fmt.Errorf("creating subscription for %s: %w", d.email, err)
		}

		if _, err := subRepo.AppendActivityLog(ctx, types.CreateActivityLogParams{
			UserID:      u.ID,
			Action:      types.ActionSubscriptionCreated,
			Description: fmt.Sprintf("Subscription created for %s", u.Email),
		}); err != nil {
			return fmt.Errorf("logging activity for %s: %w", d.email, err)
		}

		paymentStatus := types.PaymentStatusSucceeded
		var failureReason *string
		if rand.Intn(2) == 1 {
			paymentStatus = types.PaymentStatusFailed
			reason := "Insufficient funds"
			failureReason = &reason
		}
		intentID := demoRef("pi")
		if _, err := subRepo.AppendPaymentHistory(ctx, types.CreatePaymentHistoryParams{
			UserID:                 u.ID,
			SubscriptionID:         sub.ID,
			Amount:                 types.DefaultPaymentAmount,
			Currency:               types.DefaultCurrency,
			Status:                 paymentStatus,
			GatewayPaymentIntentID: &intentID,
			FailureReason:          failureReason,
		}); err != nil {
			return fmt.Errorf("recording payment for %s: %w", d.email, err)
		}

		logger.Info("Created demo user", slog.String("email", d.email), slog.String("status", string(status)))
	}
	return nil
}

func demoRef(prefix string) string {
	return fmt.Sprintf("%s_demo_%d_%06d", prefix, time.Now().UnixMilli(), rand.Intn(1_000_000))
}
