package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-subscription-billing/internal/api"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

var _ UserRepo = (*PostgresUserRepo)(nil)

// UserRepo defines the contract for user data persistence.
type UserRepo interface {
	// GetUserByID retrieves a user by their unique ID.
	// Returns types.ErrNotFound if the user doesn't exist.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)

	// GetUserByEmail retrieves a user by email.
	// Returns types.ErrNotFound if the user doesn't exist.
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)

	// GetUserByUsername retrieves a user by username.
	// Returns types.ErrNotFound if the user doesn't exist.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	// CreateUser inserts a new user. The password is stored bcrypt-hashed;
	// it is only a placeholder, this service has no login flow.
	CreateUser(ctx context.Context, params types.CreateUserParams) (*types.User, error)

	// UpdateGatewayInfo records the provider customer id and, when given,
	// the provider subscription id. Set once when the customer is provisioned.
	UpdateGatewayInfo(ctx context.Context, userID uuid.UUID, gatewayCustomerID string, gatewaySubscriptionID *string) (*types.User, error)
}

type PostgresUserRepo struct {
	logger *slog.Logger
	pgpool api.PGXPool
}

func NewPostgresUserRepo(pgpool api.PGXPool, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = `id, username, email, password, gateway_customer_id, gateway_subscription_id, created_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Password,
		&u.GatewayCustomerID,
		&u.GatewaySubscriptionID,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetUserByID"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Fetching user")

	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	u, err := scanUser(r.pgpool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user not found: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return u, nil
}

func (r *PostgresUserRepo) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByEmail", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetUserByEmail"), slog.String("email", email))
	l.DebugContext(ctx, "Fetching user by email")

	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	u, err := scanUser(r.pgpool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user not found: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query user by email", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return u, nil
}

func (r *PostgresUserRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByUsername", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetUserByUsername"), slog.String("username", username))
	l.DebugContext(ctx, "Fetching user by username")

	query := fmt.Sprintf(`SELECT %s FROM users WHERE username = $1`, userColumns)
	u, err := scanUser(r.pgpool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user not found: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query user by username", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching user: %w", err)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return u, nil
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, params types.CreateUserParams) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "CreateUser"), slog.String("email", params.Email))
	l.DebugContext(ctx, "Creating user")

	hashed, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		l.ErrorContext(ctx, "Failed to hash placeholder password", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "bcrypt failed")
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO users (username, email, password, gateway_customer_id)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, userColumns)

	u, err := scanUser(r.pgpool.QueryRow(ctx, query, params.Username, params.Email, string(hashed), params.GatewayCustomerID))
	if err != nil {
		l.ErrorContext(ctx, "Failed to insert user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error creating user: %w", err)
	}

	l.InfoContext(ctx, "User created", slog.String("userID", u.ID.String()))
	span.SetStatus(codes.Ok, "User created")
	return u, nil
}

func (r *PostgresUserRepo) UpdateGatewayInfo(ctx context.Context, userID uuid.UUID, gatewayCustomerID string, gatewaySubscriptionID *string) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "UpdateGatewayInfo", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "UpdateGatewayInfo"), slog.String("userID", userID.String()))
	l.DebugContext(ctx, "Updating user gateway info")

	query := fmt.Sprintf(`
		UPDATE users
		SET gateway_customer_id = $2,
		    gateway_subscription_id = COALESCE($3, gateway_subscription_id)
		WHERE id = $1
		RETURNING %s`, userColumns)

	u, err := scanUser(r.pgpool.QueryRow(ctx, query, userID, gatewayCustomerID, gatewaySubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user not found for gateway update: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to update gateway info", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("database error updating gateway info: %w", err)
	}

	span.SetStatus(codes.Ok, "Gateway info updated")
	return u, nil
}
