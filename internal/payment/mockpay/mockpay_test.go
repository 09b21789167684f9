package mockpay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyWebhook_ValidSignature(t *testing.T) {
	a := New("whsec_test")

	payload := []byte(`{
		"id": "evt_001",
		"type": "payment.succeeded",
		"data": {
			"invoice_id": 42,
			"transaction_id": "txn_abc",
			"amount": 3900,
			"currency": "EUR"
		}
	}`)

	evt, err := a.VerifyWebhook(payload, a.Sign(payload))
	require.NoError(t, err)

	assert.Equal(t, "mock", evt.Provider)
	assert.Equal(t, "evt_001", evt.EventID)
	assert.Equal(t, payment.WebhookPaymentSucceeded, evt.Type)
	assert.Equal(t, int64(42), evt.InvoiceID)
	assert.True(t, evt.Amount.Equal(decimal.RequireFromString("39.00")), "cents must convert to major units, got %s", evt.Amount)
	assert.Equal(t, "txn_abc", evt.PaymentRef, "payment ref falls back to transaction id")
}

func TestVerifyWebhook_BadSignature(t *testing.T) {
	a := New("whsec_test")
	payload := []byte(`{"id":"evt_002","type":"payment.succeeded","data":{"invoice_id":1}}`)

	_, err := a.VerifyWebhook(payload, "deadbeef")
	assert.True(t, errors.Is(err, xerrors.ErrSignatureInvalid))

	_, err = a.VerifyWebhook(payload, "not-hex")
	assert.True(t, errors.Is(err, xerrors.ErrSignatureInvalid))

	other := New("whsec_other")
	_, err = a.VerifyWebhook(payload, other.Sign(payload))
	assert.True(t, errors.Is(err, xerrors.ErrSignatureInvalid))
}

func TestVerifyWebhook_TamperedPayload(t *testing.T) {
	a := New("whsec_test")
	payload := []byte(`{"id":"evt_003","type":"payment.succeeded","data":{"invoice_id":7,"amount":1000}}`)
	sig := a.Sign(payload)

	tampered := []byte(`{"id":"evt_003","type":"payment.succeeded","data":{"invoice_id":7,"amount":1}}`)
	_, err := a.VerifyWebhook(tampered, sig)
	assert.True(t, errors.Is(err, xerrors.ErrSignatureInvalid))
}

func TestVerifyWebhook_EventTypeMapping(t *testing.T) {
	a := New("whsec_test")

	cases := map[string]payment.WebhookEventType{
		"payment.succeeded":      payment.WebhookPaymentSucceeded,
		"payment.failed":         payment.WebhookPaymentFailed,
		"subscription.cancelled": payment.WebhookSubscriptionCancelled,
		"charge.refunded":        payment.WebhookUnknown,
	}

	for wireType, want := range cases {
		body, err := json.Marshal(map[string]interface{}{
			"id":   "evt_x",
			"type": wireType,
			"data": map[string]interface{}{"invoice_id": 1},
		})
		require.NoError(t, err)

		evt, err := a.VerifyWebhook(body, a.Sign(body))
		require.NoError(t, err)
		assert.Equal(t, want, evt.Type, "wire type %s", wireType)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	a := New("whsec_test")
	ctx := context.Background()

	resp := a.CreateCheckoutSession(ctx, payment.CheckoutSessionParams{
		InvoiceID: 10,
		Mode:      payment.ModePayment,
		Lines: []payment.SessionLine{
			{Description: "Starter plan", UnitAmount: decimal.RequireFromString("29.00"), Currency: "EUR", Quantity: 1},
			{Description: "Token bundle", UnitAmount: decimal.RequireFromString("5.00"), Currency: "EUR", Quantity: 2},
		},
	})
	require.True(t, resp.Success, "unexpected failure: %s", resp.Err)

	sessionID, _ := resp.Data["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Contains(t, resp.Data["checkout_url"], sessionID)

	status := a.GetSessionStatus(ctx, sessionID)
	require.True(t, status.Success)
	assert.Equal(t, "open", status.Data["status"])
	assert.Equal(t, "39", status.Data["amount"])

	a.CompleteSession(sessionID)
	status = a.GetSessionStatus(ctx, sessionID)
	assert.Equal(t, "complete", status.Data["status"])
}

func TestCreateCheckoutSession_EmptyLines(t *testing.T) {
	a := New("whsec_test")
	resp := a.CreateCheckoutSession(context.Background(), payment.CheckoutSessionParams{InvoiceID: 1})
	assert.False(t, resp.Success)
	assert.Equal(t, "empty_session", resp.ErrCode)
	assert.False(t, resp.Retryable)
}

func TestGetSessionStatus_Unknown(t *testing.T) {
	a := New("whsec_test")
	resp := a.GetSessionStatus(context.Background(), "cs_missing")
	assert.False(t, resp.Success)
	assert.Equal(t, "session_not_found", resp.ErrCode)
}
