package user

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

var userTestColumns = []string{
	"id", "username", "email", "password", "gateway_customer_id", "gateway_subscription_id", "created_at",
}

func newUserRepoFixture(t *testing.T) (pgxmock.PgxPoolIface, *PostgresUserRepo) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mockPool, NewPostgresUserRepo(mockPool, logger)
}

func TestGetUserByEmail(t *testing.T) {
	mockPool, repo := newUserRepoFixture(t)
	id := uuid.New()
	createdAt := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows(userTestColumns).
			AddRow(id, "alice_smith", "alice@example.com", "hash", (*string)(nil), (*string)(nil), createdAt))

	u, err := repo.GetUserByEmail(context.Background(), "alice@example.com")

	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "alice_smith", u.Username)
	assert.Nil(t, u.GatewayCustomerID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	mockPool, repo := newUserRepoFixture(t)

	mockPool.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetUserByEmail(context.Background(), "ghost@example.com")

	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCreateUser_HashesPassword(t *testing.T) {
	mockPool, repo := newUserRepoFixture(t)
	id := uuid.New()
	createdAt := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`INSERT INTO users`).
		WithArgs("bob_jones", "bob@example.com", pgxmock.AnyArg(), (*string)(nil)).
		WillReturnRows(pgxmock.NewRows(userTestColumns).
			AddRow(id, "bob_jones", "bob@example.com", "hash", (*string)(nil), (*string)(nil), createdAt))

	u, err := repo.CreateUser(context.Background(), types.CreateUserParams{
		Username: "bob_jones",
		Email:    "bob@example.com",
		Password: "temp_password",
	})

	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateGatewayInfo_KeepsSubscriptionIDWhenNil(t *testing.T) {
	mockPool, repo := newUserRepoFixture(t)
	id := uuid.New()
	createdAt := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	existingSub := "sub_mock_1"

	mockPool.ExpectQuery(`UPDATE users`).
		WithArgs(id, "cus_mock_1", (*string)(nil)).
		WillReturnRows(pgxmock.NewRows(userTestColumns).
			AddRow(id, "carol_davis", "carol@example.com", "hash", strPtr("cus_mock_1"), &existingSub, createdAt))

	u, err := repo.UpdateGatewayInfo(context.Background(), id, "cus_mock_1", nil)

	require.NoError(t, err)
	require.NotNil(t, u.GatewaySubscriptionID)
	assert.Equal(t, "sub_mock_1", *u.GatewaySubscriptionID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateGatewayInfo_NotFound(t *testing.T) {
	mockPool, repo := newUserRepoFixture(t)
	id := uuid.New()

	mockPool.ExpectQuery(`UPDATE users`).
		WithArgs(id, "cus_mock_2", (*string)(nil)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateGatewayInfo(context.Background(), id, "cus_mock_2", nil)

	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestBcryptRoundTrip(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("temp_password"), bcrypt.DefaultCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("temp_password")))
}

func strPtr(s string) *string { return &s }
