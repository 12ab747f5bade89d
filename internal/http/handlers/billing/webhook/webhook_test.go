package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

const testSecret = "whsec_test"

type ReconcilerMock struct {
	mock.Mock
}

func (m *ReconcilerMock) ReconcileByCustomer(ctx context.Context, customerID string, sub *billing.Subscription) (*models.User, error) {
	args := m.Called(ctx, customerID, sub)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *ReconcilerMock) ActivateFromInvoice(ctx context.Context, inv *billing.Invoice) (*models.User, error) {
	args := m.Called(ctx, inv)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	req.Header.Set("stripe-signature",
		fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func TestWebhookHandler_SubscriptionUpdated(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"status": "active",
			"customer": "cus_1",
			"current_period_end": 1780000000
		}}
	}`)
	reconciler.On("ReconcileByCustomer", mock.Anything, "cus_1", mock.MatchedBy(func(sub *billing.Subscription) bool {
		return sub.ID == "sub_1" && sub.Status == billing.SubscriptionActive
	})).Return(&models.User{UID: "u1"}, nil).Once()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received": true}`, rr.Body.String())
	reconciler.AssertExpectations(t)
}

func TestWebhookHandler_SubscriptionDeletedForcesCanceled(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{
		"id": "evt_2",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "status": "active", "customer": "cus_1"}}
	}`)
	reconciler.On("ReconcileByCustomer", mock.Anything, "cus_1", mock.MatchedBy(func(sub *billing.Subscription) bool {
		return sub.Status == billing.SubscriptionCanceled
	})).Return(&models.User{UID: "u1"}, nil).Once()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	reconciler.AssertExpectations(t)
}

func TestWebhookHandler_InvoicePaid(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{
		"id": "evt_3",
		"type": "invoice.payment_succeeded",
		"data": {"object": {"id": "in_1", "customer": "cus_1", "subscription": "sub_1"}}
	}`)
	reconciler.On("ActivateFromInvoice", mock.Anything, mock.MatchedBy(func(inv *billing.Invoice) bool {
		return inv.ID == "in_1" && inv.Subscription == "sub_1"
	})).Return(&models.User{UID: "u1"}, nil).Once()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	reconciler.AssertExpectations(t)
}

func TestWebhookHandler_IgnoredEvent(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{"id": "evt_4", "type": "charge.refunded", "data": {"object": {}}}`)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	reconciler.AssertNotCalled(t, "ReconcileByCustomer", mock.Anything, mock.Anything, mock.Anything)
	reconciler.AssertNotCalled(t, "ActivateFromInvoice", mock.Anything, mock.Anything)
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{"id": "evt_5", "type": "customer.subscription.updated", "data": {"object": {}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("stripe-signature", "t=123,v1=deadbeef")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	reconciler.AssertNotCalled(t, "ReconcileByCustomer", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_ProcessingFailureReturns500(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{
		"id": "evt_6",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "status": "active", "customer": "cus_1"}}
	}`)
	reconciler.On("ReconcileByCustomer", mock.Anything, "cus_1", mock.Anything).
		Return(nil, errors.New("db down")).Once()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, body))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestWebhookHandler_UnknownCustomerIsAcknowledged(t *testing.T) {
	reconciler := new(ReconcilerMock)
	handler := New(newNoopLogger(), reconciler, testSecret)

	body := []byte(`{
		"id": "evt_7",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "status": "active", "customer": "cus_ghost"}}
	}`)
	reconciler.On("ReconcileByCustomer", mock.Anything, "cus_ghost", mock.Anything).
		Return(nil, fmt.Errorf("reconciler.ReconcileByCustomer: %w", repository.ErrUserNotFound)).Once()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received": true}`, rr.Body.String())
	reconciler.AssertExpectations(t)
}
