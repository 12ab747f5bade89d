package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) UpdateSubscriptionState(ctx context.Context, userUID string, upd repository.SubscriptionUpdate) (*models.User, error) {
	args := m.Called(ctx, userUID, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) UpdateSubscriptionStateByCustomer(ctx context.Context, customerID string, upd repository.SubscriptionUpdate) (*models.User, error) {
	args := m.Called(ctx, customerID, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) ClearSubscription(ctx context.Context, userUID, role string) (*models.User, error) {
	args := m.Called(ctx, userUID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockBillingClient struct {
	mock.Mock
}

func (m *MockBillingClient) GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Invalidate(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestShouldBeSubscriber(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  billing.Subscription
		want bool
	}{
		{
			name: "active",
			sub:  billing.Subscription{Status: billing.SubscriptionActive},
			want: true,
		},
		{
			name: "trialing",
			sub:  billing.Subscription{Status: billing.SubscriptionTrialing},
			want: true,
		},
		{
			name: "canceled with paid period remaining",
			sub: billing.Subscription{
				Status:           billing.SubscriptionCanceled,
				CurrentPeriodEnd: now.Add(24 * time.Hour).Unix(),
			},
			want: true,
		},
		{
			name: "canceled with lapsed period",
			sub: billing.Subscription{
				Status:           billing.SubscriptionCanceled,
				CurrentPeriodEnd: now.Add(-time.Hour).Unix(),
			},
			want: false,
		},
		{
			name: "canceled without period end",
			sub:  billing.Subscription{Status: billing.SubscriptionCanceled},
			want: false,
		},
		{
			name: "past_due",
			sub:  billing.Subscription{Status: billing.SubscriptionPastDue},
			want: false,
		},
		{
			name: "incomplete",
			sub:  billing.Subscription{Status: billing.SubscriptionIncomplete},
			want: false,
		},
		{
			name: "unpaid",
			sub:  billing.Subscription{Status: billing.SubscriptionUnpaid},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldBeSubscriber(&tt.sub, now))
		})
	}
}

func TestMapStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  billing.Subscription
		want string
	}{
		{"active", billing.Subscription{Status: billing.SubscriptionActive}, models.StatusActive},
		{"trialing", billing.Subscription{Status: billing.SubscriptionTrialing}, models.StatusActive},
		{"incomplete", billing.Subscription{Status: billing.SubscriptionIncomplete}, models.StatusPending},
		{"past_due", billing.Subscription{Status: billing.SubscriptionPastDue}, models.StatusPastDue},
		{
			"canceled with paid period remaining",
			billing.Subscription{
				Status:           billing.SubscriptionCanceled,
				CurrentPeriodEnd: now.Add(time.Hour).Unix(),
			},
			models.StatusCanceled,
		},
		{
			"canceled with lapsed period",
			billing.Subscription{
				Status:           billing.SubscriptionCanceled,
				CurrentPeriodEnd: now.Add(-time.Hour).Unix(),
			},
			models.StatusInactive,
		},
		{"unpaid", billing.Subscription{Status: billing.SubscriptionUnpaid}, models.StatusInactive},
		{"incomplete_expired", billing.Subscription{Status: billing.SubscriptionIncompleteExpired}, models.StatusInactive},
		{"unknown status passes through", billing.Subscription{Status: "paused"}, "paused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapStatus(&tt.sub, now))
		})
	}
}

func TestDecide(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	periodEnd := now.Add(30 * 24 * time.Hour)

	tests := []struct {
		name        string
		user        models.User
		sub         billing.Subscription
		wantRole    string
		wantStatus  string
		wantChanged bool
	}{
		{
			name: "activation promotes user to subscriber",
			user: models.User{
				UID:                "u1",
				Role:               models.RoleUser,
				SubscriptionStatus: models.StatusPending,
				SubscriptionID:     strPtr("sub_1"),
			},
			sub: billing.Subscription{
				ID:               "sub_1",
				Status:           billing.SubscriptionActive,
				CurrentPeriodEnd: periodEnd.Unix(),
			},
			wantRole:    models.RoleSubscriber,
			wantStatus:  models.StatusActive,
			wantChanged: true,
		},
		{
			name: "same state is idempotent",
			user: models.User{
				UID:                "u1",
				Role:               models.RoleSubscriber,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_1"),
				SubscriptionEnd:    timePtr(periodEnd),
			},
			sub: billing.Subscription{
				ID:               "sub_1",
				Status:           billing.SubscriptionActive,
				CurrentPeriodEnd: periodEnd.Unix(),
			},
			wantRole:    models.RoleSubscriber,
			wantStatus:  models.StatusActive,
			wantChanged: false,
		},
		{
			name: "advanced period end alone triggers refresh",
			user: models.User{
				UID:                "u1",
				Role:               models.RoleSubscriber,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_1"),
				SubscriptionEnd:    timePtr(now.Add(-24 * time.Hour)),
			},
			sub: billing.Subscription{
				ID:               "sub_1",
				Status:           billing.SubscriptionActive,
				CurrentPeriodEnd: periodEnd.Unix(),
			},
			wantRole:    models.RoleSubscriber,
			wantStatus:  models.StatusActive,
			wantChanged: true,
		},
		{
			name: "admin keeps role on lapsed subscription",
			user: models.User{
				UID:                "u2",
				Role:               models.RoleAdmin,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_2"),
			},
			sub: billing.Subscription{
				ID:               "sub_2",
				Status:           billing.SubscriptionCanceled,
				CurrentPeriodEnd: now.Add(-time.Hour).Unix(),
			},
			wantRole:    models.RoleAdmin,
			wantStatus:  models.StatusInactive,
			wantChanged: true,
		},
		{
			name: "canceled with remaining period keeps subscriber",
			user: models.User{
				UID:                "u3",
				Role:               models.RoleSubscriber,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_3"),
			},
			sub: billing.Subscription{
				ID:               "sub_3",
				Status:           billing.SubscriptionCanceled,
				CurrentPeriodEnd: periodEnd.Unix(),
			},
			wantRole:    models.RoleSubscriber,
			wantStatus:  models.StatusCanceled,
			wantChanged: true,
		},
		{
			name: "past_due downgrades role",
			user: models.User{
				UID:                "u4",
				Role:               models.RoleSubscriber,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_4"),
			},
			sub: billing.Subscription{
				ID:     "sub_4",
				Status: billing.SubscriptionPastDue,
			},
			wantRole:    models.RoleUser,
			wantStatus:  models.StatusPastDue,
			wantChanged: true,
		},
		{
			name: "new subscription id triggers write without role change",
			user: models.User{
				UID:                "u5",
				Role:               models.RoleSubscriber,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_old"),
			},
			sub: billing.Subscription{
				ID:               "sub_new",
				Status:           billing.SubscriptionActive,
				CurrentPeriodEnd: periodEnd.Unix(),
			},
			wantRole:    models.RoleSubscriber,
			wantStatus:  models.StatusActive,
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(&tt.user, &tt.sub, now)
			assert.Equal(t, tt.wantRole, d.Role)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantChanged, d.Changed)
		})
	}
}

func TestService_Reconcile_NoChangeMeansNoWrite(t *testing.T) {
	repo := new(MockUserRepository)
	billingClient := new(MockBillingClient)
	cacheMock := new(MockCache)
	svc := New(repo, billingClient, cacheMock, nil, newNoopLogger())

	periodEnd := time.Unix(time.Now().Add(time.Hour).Unix(), 0).UTC()
	user := &models.User{
		UID:                "u1",
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
		SubscriptionEnd:    &periodEnd,
	}
	sub := &billing.Subscription{
		ID:               "sub_1",
		Status:           billing.SubscriptionActive,
		CurrentPeriodEnd: periodEnd.Unix(),
	}

	got, err := svc.Reconcile(context.Background(), user, sub)
	assert.NoError(t, err)
	assert.Equal(t, user, got)
	repo.AssertNotCalled(t, "UpdateSubscriptionState", mock.Anything, mock.Anything, mock.Anything)
	cacheMock.AssertNotCalled(t, "Invalidate", mock.Anything)
}

func TestService_Reconcile_AppliesChangeAndNotifies(t *testing.T) {
	repo := new(MockUserRepository)
	billingClient := new(MockBillingClient)
	cacheMock := new(MockCache)
	notifier := new(MockPublisher)
	svc := New(repo, billingClient, cacheMock, notifier, newNoopLogger())

	email := "user@example.com"
	user := &models.User{
		UID:                "u1",
		Username:           "testuser",
		Email:              &email,
		Role:               models.RoleUser,
		SubscriptionStatus: models.StatusPending,
		SubscriptionID:     strPtr("sub_1"),
	}
	sub := &billing.Subscription{
		ID:               "sub_1",
		Status:           billing.SubscriptionActive,
		CurrentPeriodEnd: time.Now().Add(time.Hour).Unix(),
	}
	updated := &models.User{
		UID:                "u1",
		Username:           "testuser",
		Email:              &email,
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
	}

	repo.On("UpdateSubscriptionState", mock.Anything, "u1", mock.MatchedBy(func(upd repository.SubscriptionUpdate) bool {
		return upd.Status == models.StatusActive && upd.Role == models.RoleSubscriber
	})).Return(updated, nil).Once()
	cacheMock.On("Invalidate", "user:u1").Return(nil).Once()
	notifier.On("Publish", "entitlement", mock.MatchedBy(func(msg any) bool {
		notice, ok := msg.(models.EntitlementNotice)
		return ok && notice.OldRole == models.RoleUser && notice.NewRole == models.RoleSubscriber
	})).Return(nil).Once()

	got, err := svc.Reconcile(context.Background(), user, sub)
	assert.NoError(t, err)
	assert.Equal(t, models.RoleSubscriber, got.Role)
	repo.AssertExpectations(t)
	cacheMock.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestService_Reconcile_HelperFailuresDoNotFailUpdate(t *testing.T) {
	repo := new(MockUserRepository)
	billingClient := new(MockBillingClient)
	cacheMock := new(MockCache)
	notifier := new(MockPublisher)
	svc := New(repo, billingClient, cacheMock, notifier, newNoopLogger())

	user := &models.User{
		UID:                "u1",
		Username:           "testuser",
		Role:               models.RoleUser,
		SubscriptionStatus: models.StatusInactive,
	}
	sub := &billing.Subscription{
		ID:               "sub_1",
		Status:           billing.SubscriptionActive,
		CurrentPeriodEnd: time.Now().Add(time.Hour).Unix(),
	}
	updated := &models.User{
		UID:                "u1",
		Username:           "testuser",
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
	}

	repo.On("UpdateSubscriptionState", mock.Anything, "u1", mock.Anything).Return(updated, nil).Once()
	cacheMock.On("Invalidate", "user:u1").Return(errors.New("redis down")).Once()
	notifier.On("Publish", "entitlement", mock.Anything).Return(errors.New("broker down")).Once()

	got, err := svc.Reconcile(context.Background(), user, sub)
	assert.NoError(t, err)
	assert.Equal(t, models.RoleSubscriber, got.Role)
}

func TestService_ReconcileLive(t *testing.T) {
	tests := []struct {
		name       string
		user       *models.User
		setupMocks func(*MockUserRepository, *MockBillingClient, *MockCache)
		wantRole   string
		wantErr    bool
	}{
		{
			name: "no provider ids is a no-op",
			user: &models.User{UID: "u1", Role: models.RoleUser},
			setupMocks: func(_ *MockUserRepository, _ *MockBillingClient, _ *MockCache) {
			},
			wantRole: models.RoleUser,
		},
		{
			name: "resource missing deactivates locally",
			user: &models.User{
				UID:                "u2",
				Role:               models.RoleSubscriber,
				SubscriptionStatus: models.StatusActive,
				SubscriptionID:     strPtr("sub_gone"),
				StripeCustomerID:   strPtr("cus_1"),
			},
			setupMocks: func(repo *MockUserRepository, billingClient *MockBillingClient, cacheMock *MockCache) {
				billingClient.On("GetSubscription", mock.Anything, "sub_gone").
					Return(nil, &billing.Error{Code: "resource_missing", StatusCode: 404}).Once()
				repo.On("ClearSubscription", mock.Anything, "u2", models.RoleUser).
					Return(&models.User{UID: "u2", Role: models.RoleUser, SubscriptionStatus: models.StatusInactive}, nil).Once()
				cacheMock.On("Invalidate", "user:u2").Return(nil).Once()
			},
			wantRole: models.RoleUser,
		},
		{
			name: "provider failure propagates",
			user: &models.User{
				UID:              "u3",
				Role:             models.RoleSubscriber,
				SubscriptionID:   strPtr("sub_3"),
				StripeCustomerID: strPtr("cus_3"),
			},
			setupMocks: func(_ *MockUserRepository, billingClient *MockBillingClient, _ *MockCache) {
				billingClient.On("GetSubscription", mock.Anything, "sub_3").
					Return(nil, &billing.Error{Type: "api_error", StatusCode: 500}).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockUserRepository)
			billingClient := new(MockBillingClient)
			cacheMock := new(MockCache)
			tt.setupMocks(repo, billingClient, cacheMock)
			svc := New(repo, billingClient, cacheMock, nil, newNoopLogger())

			got, err := svc.ReconcileLive(context.Background(), tt.user)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantRole, got.Role)
			repo.AssertExpectations(t)
			billingClient.AssertExpectations(t)
		})
	}
}

func TestService_ActivateFromInvoice(t *testing.T) {
	repo := new(MockUserRepository)
	billingClient := new(MockBillingClient)
	cacheMock := new(MockCache)
	svc := New(repo, billingClient, cacheMock, nil, newNoopLogger())

	user := &models.User{
		UID:                "u1",
		Role:               models.RoleUser,
		SubscriptionStatus: models.StatusPastDue,
		SubscriptionID:     strPtr("sub_1"),
		StripeCustomerID:   strPtr("cus_1"),
	}
	updated := &models.User{
		UID:                "u1",
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
	}
	inv := &billing.Invoice{
		ID:           "in_1",
		Customer:     "cus_1",
		Subscription: "sub_1",
		PeriodEnd:    time.Now().Add(30 * 24 * time.Hour).Unix(),
	}

	repo.On("GetUserByStripeCustomerID", mock.Anything, "cus_1").Return(user, nil).Once()
	repo.On("UpdateSubscriptionStateByCustomer", mock.Anything, "cus_1", mock.MatchedBy(func(upd repository.SubscriptionUpdate) bool {
		return upd.Status == models.StatusActive && upd.Role == models.RoleSubscriber
	})).Return(updated, nil).Once()
	cacheMock.On("Invalidate", "user:u1").Return(nil).Once()

	got, err := svc.ActivateFromInvoice(context.Background(), inv)
	assert.NoError(t, err)
	assert.Equal(t, models.RoleSubscriber, got.Role)
	assert.Equal(t, models.StatusActive, got.SubscriptionStatus)
	repo.AssertExpectations(t)
}

func TestService_ActivateFromInvoice_ReplayIsNoOp(t *testing.T) {
	repo := new(MockUserRepository)
	svc := New(repo, new(MockBillingClient), new(MockCache), nil, newNoopLogger())

	periodEnd := time.Unix(time.Now().Add(30*24*time.Hour).Unix(), 0).UTC()
	user := &models.User{
		UID:                "u1",
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
		SubscriptionEnd:    &periodEnd,
	}
	inv := &billing.Invoice{
		Customer:     "cus_1",
		Subscription: "sub_1",
		PeriodEnd:    periodEnd.Unix(),
	}

	repo.On("GetUserByStripeCustomerID", mock.Anything, "cus_1").Return(user, nil).Once()

	got, err := svc.ActivateFromInvoice(context.Background(), inv)
	assert.NoError(t, err)
	assert.Equal(t, user, got)
	repo.AssertNotCalled(t, "UpdateSubscriptionStateByCustomer", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ActivateFromInvoice_RenewalRefreshesPeriodEnd(t *testing.T) {
	repo := new(MockUserRepository)
	cacheMock := new(MockCache)
	svc := New(repo, new(MockBillingClient), cacheMock, nil, newNoopLogger())

	oldEnd := time.Now().Add(-24 * time.Hour).UTC()
	newEnd := time.Unix(time.Now().Add(30*24*time.Hour).Unix(), 0).UTC()
	user := &models.User{
		UID:                "u1",
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
		SubscriptionEnd:    &oldEnd,
	}
	updated := &models.User{
		UID:                "u1",
		Role:               models.RoleSubscriber,
		SubscriptionStatus: models.StatusActive,
		SubscriptionID:     strPtr("sub_1"),
		SubscriptionEnd:    &newEnd,
	}
	inv := &billing.Invoice{
		Customer:     "cus_1",
		Subscription: "sub_1",
		PeriodEnd:    newEnd.Unix(),
	}

	repo.On("GetUserByStripeCustomerID", mock.Anything, "cus_1").Return(user, nil).Once()
	repo.On("UpdateSubscriptionStateByCustomer", mock.Anything, "cus_1", mock.MatchedBy(func(upd repository.SubscriptionUpdate) bool {
		return upd.Status == models.StatusActive &&
			upd.PeriodEnd != nil && upd.PeriodEnd.Equal(newEnd)
	})).Return(updated, nil).Once()
	cacheMock.On("Invalidate", "user:u1").Return(nil).Once()

	got, err := svc.ActivateFromInvoice(context.Background(), inv)
	assert.NoError(t, err)
	assert.True(t, got.SubscriptionEnd.Equal(newEnd))
	repo.AssertExpectations(t)
	cacheMock.AssertExpectations(t)
}
