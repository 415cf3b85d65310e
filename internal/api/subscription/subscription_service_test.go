package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-subscription-billing/internal/gateway"
	"github.com/FACorreiaa/go-subscription-billing/internal/notify"
	"github.com/FACorreiaa/go-subscription-billing/internal/types"
)

// MockSubscriptionRepo is a mock implementation of SubscriptionRepo.
type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	args := m.Called(ctx, id)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) CreateIfNoneActive(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, bool, error) {
	args := m.Called(ctx, params)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Bool(1), args.Error(2)
}

func (m *MockSubscriptionRepo) MarkPendingOff(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	args := m.Called(ctx, id)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) Reactivate(ctx context.Context, id uuid.UUID, windowEnd time.Time) (*types.Subscription, error) {
	args := m.Called(ctx, id, windowEnd)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) AdvanceWindow(ctx context.Context, id uuid.UUID, newEnd time.Time) (*types.Subscription, error) {
	args := m.Called(ctx, id, newEnd)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) Expire(ctx context.Context, id uuid.UUID, now time.Time) (*types.Subscription, error) {
	args := m.Called(ctx, id, now)
	sub, _ := args.Get(0).(*types.Subscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) ListDueForRenewal(ctx context.Context, now time.Time) ([]types.Subscription, error) {
	args := m.Called(ctx, now)
	subs, _ := args.Get(0).([]types.Subscription)
	return subs, args.Error(1)
}

func (m *MockSubscriptionRepo) ListExpired(ctx context.Context, now time.Time) ([]types.Subscription, error) {
	args := m.Called(ctx, now)
	subs, _ := args.Get(0).([]types.Subscription)
	return subs, args.Error(1)
}

func (m *MockSubscriptionRepo) AppendPaymentHistory(ctx context.Context, params types.CreatePaymentHistoryParams) (*types.PaymentHistory, error) {
	args := m.Called(ctx, params)
	p, _ := args.Get(0).(*types.PaymentHistory)
	return p, args.Error(1)
}

func (m *MockSubscriptionRepo) AppendActivityLog(ctx context.Context, params types.CreateActivityLogParams) (*types.ActivityLog, error) {
	args := m.Called(ctx, params)
	a, _ := args.Get(0).(*types.ActivityLog)
	return a, args.Error(1)
}

// MockUserRepo is a mock implementation of user.UserRepo.
type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*types.User)
	return u, args.Error(1)
}

func (m *MockUserRepo) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*types.User)
	return u, args.Error(1)
}

func (m *MockUserRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	args := m.Called(ctx, username)
	u, _ := args.Get(0).(*types.User)
	return u, args.Error(1)
}

func (m *MockUserRepo) CreateUser(ctx context.Context, params types.CreateUserParams) (*types.User, error) {
	args := m.Called(ctx, params)
	u, _ := args.Get(0).(*types.User)
	return u, args.Error(1)
}

func (m *MockUserRepo) UpdateGatewayInfo(ctx context.Context, userID uuid.UUID, gatewayCustomerID string, gatewaySubscriptionID *string) (*types.User, error) {
	args := m.Called(ctx, userID, gatewayCustomerID, gatewaySubscriptionID)
	u, _ := args.Get(0).(*types.User)
	return u, args.Error(1)
}

// MockGateway is a mock implementation of gateway.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	args := m.Called(ctx, email, name)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CreateSubscription(ctx context.Context, customerID string) (string, string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockGateway) Charge(ctx context.Context, amount float64, currency, customerID string) (*gateway.ChargeResult, error) {
	args := m.Called(ctx, amount, currency, customerID)
	res, _ := args.Get(0).(*gateway.ChargeResult)
	return res, args.Error(1)
}

// capturingNotifier records broadcast events for assertions.
type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *capturingNotifier) Broadcast(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *capturingNotifier) all() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

type serviceFixture struct {
	svc      *SubscriptionServiceImpl
	repo     *MockSubscriptionRepo
	userRepo *MockUserRepo
	gateway  *MockGateway
	notifier *capturingNotifier
	now      time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repo:     new(MockSubscriptionRepo),
		userRepo: new(MockUserRepo),
		gateway:  new(MockGateway),
		notifier: &capturingNotifier{},
		now:      time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewSubscriptionService(f.repo, f.userRepo, f.gateway, f.notifier, nil, time.Second, logger)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func strPtr(s string) *string { return &s }

func activeSubscription(now time.Time) *types.Subscription {
	end := now.Add(12 * time.Hour)
	amount := 9.99
	return &types.Subscription{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		Status:            types.SubscriptionStatusActive,
		SubscriptionStart: now.Add(-12 * time.Hour),
		SubscriptionEnd:   end,
		NextRenewal:       &end,
		PaymentMethod:     strPtr("card"),
		LastPaymentAmount: &amount,
		IsRecurring:       true,
	}
}

func TestCreateForUser_NewUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	created := &types.User{ID: userID, Username: "alice", Email: "alice@example.com"}

	f.userRepo.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(nil, types.ErrNotFound).Once()
	f.userRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(p types.CreateUserParams) bool {
		return p.Email == "alice@example.com" && p.Username == "alice"
	})).Return(created, nil).Once()
	f.repo.On("GetActiveByUserID", mock.Anything, userID).Return(nil, types.ErrNotFound).Once()
	f.gateway.On("CreateCustomer", mock.Anything, "alice@example.com", "alice").Return("cus_mock_1", nil).Once()
	f.gateway.On("CreateSubscription", mock.Anything, "cus_mock_1").Return("sub_mock_1", "pi_mock_1_secret", nil).Once()
	f.userRepo.On("UpdateGatewayInfo", mock.Anything, userID, "cus_mock_1", mock.Anything).Return(created, nil).Once()

	wantEnd := f.now.Add(24 * time.Hour)
	newSub := &types.Subscription{ID: uuid.New(), UserID: userID, Status: types.SubscriptionStatusActive, SubscriptionEnd: wantEnd}
	f.repo.On("CreateIfNoneActive", mock.Anything, mock.MatchedBy(func(p types.CreateSubscriptionParams) bool {
		return p.UserID == userID &&
			p.Status == types.SubscriptionStatusActive &&
			p.SubscriptionStart.Equal(f.now) &&
			p.SubscriptionEnd.Equal(wantEnd) &&
			p.NextRenewal != nil && p.NextRenewal.Equal(wantEnd) &&
			p.IsRecurring
	})).Return(newSub, true, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.MatchedBy(func(p types.CreateActivityLogParams) bool {
		return p.Action == types.ActionSubscriptionCreated && p.Description == "Subscription created for alice@example.com"
	})).Return(&types.ActivityLog{}, nil).Once()

	result, err := f.svc.CreateForUser(ctx, "alice@example.com", "alice")

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "sub_mock_1", result.GatewaySubscriptionID)
	assert.Equal(t, "pi_mock_1_secret", result.ClientSecret)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventSubscriptionCreated, events[0].Type)
	assert.Equal(t, userID.String(), events[0].UserID)

	f.repo.AssertExpectations(t)
	f.userRepo.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
}

func TestCreateForUser_AlreadyActive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	existing := activeSubscription(f.now)
	u := &types.User{ID: existing.UserID, Username: "bob", Email: "bob@example.com"}

	f.userRepo.On("GetUserByEmail", mock.Anything, "bob@example.com").Return(u, nil).Once()
	f.repo.On("GetActiveByUserID", mock.Anything, u.ID).Return(existing, nil).Once()

	result, err := f.svc.CreateForUser(ctx, "bob@example.com", "bob")

	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, existing, result.Subscription)
	assert.Empty(t, result.ClientSecret)
	assert.Empty(t, f.notifier.all())

	f.gateway.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "CreateIfNoneActive", mock.Anything, mock.Anything)
}

func TestCreateForUser_MissingFields(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CreateForUser(context.Background(), "", "alice")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = f.svc.CreateForUser(context.Background(), "alice@example.com", "")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestCreateForUser_ReusesGatewayCustomer(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	u := &types.User{ID: uuid.New(), Username: "carol", Email: "carol@example.com", GatewayCustomerID: strPtr("cus_mock_9")}

	f.userRepo.On("GetUserByEmail", mock.Anything, "carol@example.com").Return(u, nil).Once()
	f.repo.On("GetActiveByUserID", mock.Anything, u.ID).Return(nil, types.ErrNotFound).Once()
	f.gateway.On("CreateSubscription", mock.Anything, "cus_mock_9").Return("sub_mock_9", "secret", nil).Once()
	f.userRepo.On("UpdateGatewayInfo", mock.Anything, u.ID, "cus_mock_9", mock.Anything).Return(u, nil).Once()
	f.repo.On("CreateIfNoneActive", mock.Anything, mock.Anything).Return(activeSubscription(f.now), true, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.Anything).Return(&types.ActivityLog{}, nil).Once()

	_, err := f.svc.CreateForUser(ctx, "carol@example.com", "carol")

	require.NoError(t, err)
	f.gateway.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertExpectations(t)
}

func TestRequestCancel_KeepsWindow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	sub.Status = types.SubscriptionStatusPendingOff

	f.repo.On("MarkPendingOff", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.MatchedBy(func(p types.CreateActivityLogParams) bool {
		return p.Action == types.ActionSubscriptionCancelReq
	})).Return(&types.ActivityLog{}, nil).Once()

	got, err := f.svc.RequestCancel(ctx, sub.ID)

	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusPendingOff, got.Status)
	assert.Equal(t, sub.SubscriptionEnd, got.SubscriptionEnd)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventSubscriptionUpdated, events[0].Type)
	assert.Equal(t, sub.ID.String(), events[0].SubscriptionID)
}

func TestRequestCancel_NotFound(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	id := uuid.New()

	f.repo.On("MarkPendingOff", mock.Anything, id).Return(nil, fmt.Errorf("gone: %w", types.ErrNotFound)).Once()

	_, err := f.svc.RequestCancel(ctx, id)

	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, f.notifier.all())
	f.repo.AssertNotCalled(t, "AppendActivityLog", mock.Anything, mock.Anything)
}

func TestReactivate_ResetsWindow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	wantEnd := f.now.Add(24 * time.Hour)

	f.repo.On("Reactivate", mock.Anything, sub.ID, wantEnd).Return(sub, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.MatchedBy(func(p types.CreateActivityLogParams) bool {
		return p.Action == types.ActionSubscriptionReactivated
	})).Return(&types.ActivityLog{}, nil).Once()

	_, err := f.svc.Reactivate(ctx, sub.ID)

	require.NoError(t, err)
	f.repo.AssertExpectations(t)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventSubscriptionUpdated, events[0].Type)
}

func TestRenew_SuccessAnchorsToPreviousEnd(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	u := &types.User{ID: sub.UserID, GatewayCustomerID: strPtr("cus_mock_2")}
	wantEnd := sub.SubscriptionEnd.Add(24 * time.Hour)

	f.repo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.userRepo.On("GetUserByID", mock.Anything, sub.UserID).Return(u, nil).Once()
	f.gateway.On("Charge", mock.Anything, 9.99, "usd", "cus_mock_2").
		Return(&gateway.ChargeResult{PaymentIntentID: "pi_mock_2", Succeeded: true}, nil).Once()

	renewed := *sub
	renewed.SubscriptionEnd = wantEnd
	renewed.NextRenewal = &wantEnd
	f.repo.On("AdvanceWindow", mock.Anything, sub.ID, wantEnd).Return(&renewed, nil).Once()
	f.repo.On("AppendPaymentHistory", mock.Anything, mock.MatchedBy(func(p types.CreatePaymentHistoryParams) bool {
		return p.Status == types.PaymentStatusSucceeded &&
			p.Amount == 9.99 &&
			p.GatewayPaymentIntentID != nil && *p.GatewayPaymentIntentID == "pi_mock_2"
	})).Return(&types.PaymentHistory{}, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.MatchedBy(func(p types.CreateActivityLogParams) bool {
		return p.Action == types.ActionPaymentProcessed && p.Description == "Recurring payment processed successfully"
	})).Return(&types.ActivityLog{}, nil).Once()

	outcome, err := f.svc.Renew(ctx, sub.ID, f.now)

	require.NoError(t, err)
	assert.True(t, outcome.Charged)
	assert.True(t, outcome.Advanced)
	assert.Equal(t, wantEnd, outcome.Subscription.SubscriptionEnd)
	f.repo.AssertExpectations(t)
}

func TestRenew_DeclinedLeavesWindowUntouched(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	u := &types.User{ID: sub.UserID, GatewayCustomerID: strPtr("cus_mock_3")}

	f.repo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.userRepo.On("GetUserByID", mock.Anything, sub.UserID).Return(u, nil).Once()
	f.gateway.On("Charge", mock.Anything, 9.99, "usd", "cus_mock_3").
		Return(&gateway.ChargeResult{PaymentIntentID: "pi_mock_3", Succeeded: false, FailureReason: "Payment failed"}, nil).Once()
	f.repo.On("AppendPaymentHistory", mock.Anything, mock.MatchedBy(func(p types.CreatePaymentHistoryParams) bool {
		return p.Status == types.PaymentStatusFailed &&
			p.FailureReason != nil && *p.FailureReason == "Payment failed"
	})).Return(&types.PaymentHistory{}, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.MatchedBy(func(p types.CreateActivityLogParams) bool {
		return p.Action == types.ActionPaymentFailed && p.Description == "Payment failed: Payment failed"
	})).Return(&types.ActivityLog{}, nil).Once()

	outcome, err := f.svc.Renew(ctx, sub.ID, f.now)

	require.NoError(t, err)
	assert.False(t, outcome.Charged)
	assert.False(t, outcome.Advanced)
	f.repo.AssertNotCalled(t, "AdvanceWindow", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.all())
}

func TestRenew_GatewayErrorRecordedAsFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	u := &types.User{ID: sub.UserID, GatewayCustomerID: strPtr("cus_mock_4")}

	f.repo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.userRepo.On("GetUserByID", mock.Anything, sub.UserID).Return(u, nil).Once()
	f.gateway.On("Charge", mock.Anything, 9.99, "usd", "cus_mock_4").
		Return(nil, errors.New("connection reset")).Once()
	f.repo.On("AppendPaymentHistory", mock.Anything, mock.MatchedBy(func(p types.CreatePaymentHistoryParams) bool {
		return p.Status == types.PaymentStatusFailed &&
			p.FailureReason != nil && *p.FailureReason == "connection reset" &&
			p.GatewayPaymentIntentID == nil
	})).Return(&types.PaymentHistory{}, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.Anything).Return(&types.ActivityLog{}, nil).Once()

	outcome, err := f.svc.Renew(ctx, sub.ID, f.now)

	require.NoError(t, err)
	assert.False(t, outcome.Charged)
	f.repo.AssertNotCalled(t, "AdvanceWindow", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenew_NotActive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	sub.Status = types.SubscriptionStatusPendingOff
	f.repo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()

	_, err := f.svc.Renew(ctx, sub.ID, f.now)

	assert.ErrorIs(t, err, types.ErrConflict)
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRenew_NoGatewayCustomerSkips(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	u := &types.User{ID: sub.UserID}

	f.repo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.userRepo.On("GetUserByID", mock.Anything, sub.UserID).Return(u, nil).Once()

	outcome, err := f.svc.Renew(ctx, sub.ID, f.now)

	require.NoError(t, err)
	assert.False(t, outcome.Charged)
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "AppendPaymentHistory", mock.Anything, mock.Anything)
}

func TestRenew_ConcurrentCancelStillRecordsPayment(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	u := &types.User{ID: sub.UserID, GatewayCustomerID: strPtr("cus_mock_5")}
	wantEnd := sub.SubscriptionEnd.Add(24 * time.Hour)

	f.repo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
	f.userRepo.On("GetUserByID", mock.Anything, sub.UserID).Return(u, nil).Once()
	f.gateway.On("Charge", mock.Anything, 9.99, "usd", "cus_mock_5").
		Return(&gateway.ChargeResult{PaymentIntentID: "pi_mock_5", Succeeded: true}, nil).Once()
	f.repo.On("AdvanceWindow", mock.Anything, sub.ID, wantEnd).
		Return(nil, fmt.Errorf("changed: %w", types.ErrConflict)).Once()
	f.repo.On("AppendPaymentHistory", mock.Anything, mock.MatchedBy(func(p types.CreatePaymentHistoryParams) bool {
		return p.Status == types.PaymentStatusSucceeded
	})).Return(&types.PaymentHistory{}, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.Anything).Return(&types.ActivityLog{}, nil).Once()

	outcome, err := f.svc.Renew(ctx, sub.ID, f.now)

	require.NoError(t, err)
	assert.True(t, outcome.Charged)
	assert.False(t, outcome.Advanced)
}

func TestExpire_AppendsAuditAndBroadcasts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sub := activeSubscription(f.now)
	sub.Status = types.SubscriptionStatusInactive
	sub.NextRenewal = nil

	f.repo.On("Expire", mock.Anything, sub.ID, f.now).Return(sub, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.MatchedBy(func(p types.CreateActivityLogParams) bool {
		return p.Action == types.ActionSubscriptionExpired && p.Description == "Subscription expired and set to inactive"
	})).Return(&types.ActivityLog{}, nil).Once()

	got, err := f.svc.Expire(ctx, sub.ID, f.now)

	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusInactive, got.Status)
	assert.Nil(t, got.NextRenewal)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventSubscriptionUpdated, events[0].Type)
}

func TestProcessDueRenewals_OneFailureDoesNotAbortBatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := activeSubscription(f.now)
	second := activeSubscription(f.now)
	f.repo.On("ListDueForRenewal", mock.Anything, f.now).Return([]types.Subscription{*first, *second}, nil).Once()

	// First renewal blows up on the lookup, second succeeds end to end.
	f.repo.On("GetByID", mock.Anything, first.ID).Return(nil, errors.New("db down")).Once()

	u := &types.User{ID: second.UserID, GatewayCustomerID: strPtr("cus_mock_6")}
	f.repo.On("GetByID", mock.Anything, second.ID).Return(second, nil).Once()
	f.userRepo.On("GetUserByID", mock.Anything, second.UserID).Return(u, nil).Once()
	f.gateway.On("Charge", mock.Anything, 9.99, "usd", "cus_mock_6").
		Return(&gateway.ChargeResult{PaymentIntentID: "pi_mock_6", Succeeded: true}, nil).Once()
	f.repo.On("AdvanceWindow", mock.Anything, second.ID, second.SubscriptionEnd.Add(24*time.Hour)).Return(second, nil).Once()
	f.repo.On("AppendPaymentHistory", mock.Anything, mock.Anything).Return(&types.PaymentHistory{}, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.Anything).Return(&types.ActivityLog{}, nil).Once()

	err := f.svc.ProcessDueRenewals(ctx)

	require.NoError(t, err)
	f.repo.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
}

func TestProcessExpirations_SkipsConflicts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := activeSubscription(f.now)
	second := activeSubscription(f.now)
	f.repo.On("ListExpired", mock.Anything, f.now).Return([]types.Subscription{*first, *second}, nil).Once()

	// First was reactivated between the listing and the expiry attempt.
	f.repo.On("Expire", mock.Anything, first.ID, f.now).Return(nil, fmt.Errorf("changed: %w", types.ErrConflict)).Once()
	expired := *second
	expired.Status = types.SubscriptionStatusInactive
	f.repo.On("Expire", mock.Anything, second.ID, f.now).Return(&expired, nil).Once()
	f.repo.On("AppendActivityLog", mock.Anything, mock.Anything).Return(&types.ActivityLog{}, nil).Once()

	err := f.svc.ProcessExpirations(ctx)

	require.NoError(t, err)
	f.repo.AssertExpectations(t)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, expired.ID.String(), events[0].SubscriptionID)
}
