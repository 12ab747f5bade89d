package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{
			name:   "valid signature",
			header: signBody(secret, now.Unix(), body),
		},
		{
			name:    "wrong secret",
			header:  signBody("whsec_other", now.Unix(), body),
			wantErr: true,
		},
		{
			name:    "stale timestamp",
			header:  signBody(secret, now.Add(-10*time.Minute).Unix(), body),
			wantErr: true,
		},
		{
			name:    "missing v1 part",
			header:  fmt.Sprintf("t=%d", now.Unix()),
			wantErr: true,
		},
		{
			name:    "garbage header",
			header:  "not-a-signature",
			wantErr: true,
		},
		{
			name:    "empty header",
			header:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(body, tt.header, secret, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignature_BodyTamper(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	header := signBody(secret, now.Unix(), body)

	tampered := []byte(`{"id":"evt_2"}`)
	assert.ErrorIs(t, VerifySignature(tampered, header, secret, now), ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	t.Run("subscription updated", func(t *testing.T) {
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
		payload, err := ParseEvent(body)
		require.NoError(t, err)

		upserted, ok := payload.(SubscriptionUpserted)
		require.True(t, ok)
		assert.Equal(t, "sub_1", upserted.Subscription.ID)
		assert.Equal(t, SubscriptionActive, upserted.Subscription.Status)
		assert.Equal(t, "cus_1", upserted.Subscription.Customer)
		assert.Equal(t, int64(1780000000), upserted.Subscription.CurrentPeriodEnd)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		body := []byte(`{
			"id": "evt_2",
			"type": "customer.subscription.deleted",
			"data": {"object": {"id": "sub_1", "status": "canceled", "customer": "cus_1"}}
		}`)
		payload, err := ParseEvent(body)
		require.NoError(t, err)

		deleted, ok := payload.(SubscriptionDeleted)
		require.True(t, ok)
		assert.Equal(t, SubscriptionCanceled, deleted.Subscription.Status)
	})

	t.Run("invoice paid", func(t *testing.T) {
		body := []byte(`{
			"id": "evt_3",
			"type": "invoice.payment_succeeded",
			"data": {"object": {
				"id": "in_1",
				"customer": "cus_1",
				"subscription": "sub_1",
				"period_end": 1780000000
			}}
		}`)
		payload, err := ParseEvent(body)
		require.NoError(t, err)

		paid, ok := payload.(InvoicePaid)
		require.True(t, ok)
		assert.Equal(t, "in_1", paid.Invoice.ID)
		assert.Equal(t, "sub_1", paid.Invoice.Subscription)
	})

	t.Run("unhandled type is ignored", func(t *testing.T) {
		body := []byte(`{"id": "evt_4", "type": "charge.refunded", "data": {"object": {}}}`)
		payload, err := ParseEvent(body)
		require.NoError(t, err)

		ignored, ok := payload.(IgnoredEvent)
		require.True(t, ok)
		assert.Equal(t, "charge.refunded", ignored.Type)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{broken`))
		assert.Error(t, err)
	})
}
