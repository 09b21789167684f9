// internal/service/lifecycle/lifecycle_test.go
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/token"
	"subpay-service/internal/events"
	tokensvc "subpay-service/internal/service/token"
	"subpay-service/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureFixture struct {
	invoices *testutil.FakeInvoiceRepo
	catalog  *testutil.FakeCatalogRepo
	subs     *testutil.FakeSubscriptionRepo
	addOns   *testutil.FakeAddOnSubRepo
	tokens   *testutil.FakeTokenRepo
	db       *testutil.TxBeginner
	handler  *PaymentCapturedHandler
}

func newCaptureFixture() *captureFixture {
	f := &captureFixture{
		invoices: testutil.NewFakeInvoiceRepo(),
		catalog:  testutil.NewFakeCatalogRepo(),
		subs:     testutil.NewFakeSubscriptionRepo(),
		addOns:   testutil.NewFakeAddOnSubRepo(),
		tokens:   testutil.NewFakeTokenRepo(),
		db:       &testutil.TxBeginner{},
	}
	f.db.Track(f.invoices, f.subs, f.addOns, f.tokens)
	logger := zap.NewNop()
	f.handler = NewPaymentCapturedHandler(
		f.invoices, f.catalog, f.subs, f.addOns,
		tokensvc.NewTokenService(f.tokens, f.db, logger),
		f.db, logger,
	)
	return f
}

// seedBasket creates a pending invoice covering a monthly plan, two
// token bundles and one add-on, with pending companion rows.
func (f *captureFixture) seedBasket(t *testing.T) *billing.UserInvoice {
	t.Helper()

	plan := &catalog.TarifPlan{
		Name:          "Pro",
		Price:         decimal.RequireFromString("29.00"),
		Currency:      "EUR",
		BillingPeriod: catalog.PeriodMonthly,
		DefaultTokens: 100,
		Status:        catalog.StatusActive,
	}
	require.NoError(t, f.catalog.CreatePlan(context.Background(), plan))

	bundle := &catalog.TokenBundle{
		Name:        "Starter Pack",
		Price:       decimal.RequireFromString("5.00"),
		Currency:    "EUR",
		TokenAmount: 500,
		Status:      catalog.StatusActive,
	}
	require.NoError(t, f.catalog.CreateBundle(context.Background(), bundle))

	addOn := &catalog.AddOn{
		Name:          "Priority Support",
		Price:         decimal.RequireFromString("9.00"),
		Currency:      "EUR",
		BillingPeriod: catalog.PeriodMonthly,
		Status:        catalog.StatusActive,
	}
	require.NoError(t, f.catalog.CreateAddOn(context.Background(), addOn))

	sub := f.subs.Add(&subscription.Subscription{
		UserID:      7,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusPending,
	})
	addOnSub := f.addOns.Add(&subscription.AddOnSubscription{
		UserID:  7,
		AddOnID: addOn.ID,
		Status:  subscription.StatusPending,
	})

	return f.invoices.Add(&billing.UserInvoice{
		InvoiceNumber: "INV-TEST-1",
		UserID:        7,
		Status:        billing.InvoiceStatusPending,
		TotalAmount:   decimal.RequireFromString("48.00"),
		Currency:      "EUR",
		Lines: []billing.InvoiceLineItem{
			{
				ItemType:       billing.ItemTypeSubscription,
				ItemID:         plan.ID,
				UnitPrice:      plan.Price,
				Quantity:       1,
				SubscriptionID: sql.NullInt64{Int64: sub.ID, Valid: true},
			},
			{
				ItemType:  billing.ItemTypeTokenBundle,
				ItemID:    bundle.ID,
				UnitPrice: bundle.Price,
				Quantity:  2,
			},
			{
				ItemType:            billing.ItemTypeAddOn,
				ItemID:              addOn.ID,
				UnitPrice:           addOn.Price,
				Quantity:            1,
				AddOnSubscriptionID: sql.NullInt64{Int64: addOnSub.ID, Valid: true},
			},
		},
	})
}

func capturedEvent(invoiceID int64) *events.PaymentCapturedEvent {
	return &events.PaymentCapturedEvent{
		InvoiceID:      invoiceID,
		PaymentRef:     "pi_123",
		Amount:         decimal.RequireFromString("48.00"),
		Currency:       "EUR",
		Provider:       "mock",
		TransactionID:  "evt_1",
		ProviderSubRef: "sub_remote_1",
	}
}

func TestPaymentCapturedActivatesBasket(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)

	res := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.True(t, res.Success, res.Err)
	assert.Equal(t, 1, res.Data["activated_subscriptions"])
	assert.Equal(t, 1, res.Data["activated_add_ons"])
	assert.Equal(t, int64(1100), res.Data["tokens_credited"])

	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "pi_123", inv.PaymentRef.String)
	assert.Equal(t, "mock", inv.Provider.String)
	assert.True(t, inv.PaidAt.Valid)
	assert.Equal(t, true, inv.Metadata["activation_complete"])

	sub := f.subs.Subs[1]
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, "sub_remote_1", sub.ProviderSubRef.String)
	assert.True(t, sub.ExpiresAt.Valid)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), sub.ExpiresAt.Time, time.Minute)

	addOnSub := f.addOns.Subs[1]
	assert.Equal(t, subscription.StatusActive, addOnSub.Status)
	require.True(t, addOnSub.ParentSubscriptionID.Valid)
	assert.Equal(t, sub.ID, addOnSub.ParentSubscriptionID.Int64)

	// 100 plan tokens + 2x500 bundle tokens, referenced to the invoice.
	assert.Equal(t, int64(1100), f.tokens.Balances[7])
	require.Len(t, f.tokens.Ledger, 2)
	assert.Equal(t, token.TypeSubscription, f.tokens.Ledger[0].Type)
	assert.Equal(t, token.TypePurchase, f.tokens.Ledger[1].Type)
	assert.Equal(t, "invoice:1", f.tokens.Ledger[0].ReferenceID.String)
}

func TestPaymentCapturedReactivatesPostTrialSubscription(t *testing.T) {
	f := newCaptureFixture()

	plan := &catalog.TarifPlan{
		Name:          "Pro",
		Price:         decimal.RequireFromString("29.00"),
		Currency:      "EUR",
		BillingPeriod: catalog.PeriodMonthly,
		DefaultTokens: 100,
		Status:        catalog.StatusActive,
	}
	require.NoError(t, f.catalog.CreatePlan(context.Background(), plan))

	// A trial that lapsed: cancelled with its trial history intact,
	// waiting on the conversion invoice.
	sub := f.subs.Add(&subscription.Subscription{
		UserID:      7,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusCancelled,
		TrialEndAt:  sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	})
	inv := f.invoices.Add(&billing.UserInvoice{
		InvoiceNumber: "INV-CONV-1",
		UserID:        7,
		Status:        billing.InvoiceStatusPending,
		TotalAmount:   plan.Price,
		Currency:      "EUR",
		Lines: []billing.InvoiceLineItem{{
			ItemType:       billing.ItemTypeSubscription,
			ItemID:         plan.ID,
			UnitPrice:      plan.Price,
			Quantity:       1,
			SubscriptionID: sql.NullInt64{Int64: sub.ID, Valid: true},
		}},
	})

	evt := capturedEvent(inv.ID)
	evt.Amount = plan.Price
	res := f.handler.Handle(context.Background(), evt)
	require.True(t, res.Success, res.Err)

	// The same row converts back to ACTIVE with a fresh paid window.
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.False(t, sub.CancelledAt.Valid)
	require.True(t, sub.ExpiresAt.Valid)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), sub.ExpiresAt.Time, time.Minute)
	assert.Equal(t, int64(100), f.tokens.Balances[7])
}

func TestPaymentCapturedDuplicateIgnored(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)

	first := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.True(t, first.Success)

	second := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.True(t, second.Success)
	assert.Equal(t, true, second.Data["idempotent"])

	// The redelivery must not double-credit.
	assert.Equal(t, int64(1100), f.tokens.Balances[7])
	assert.Len(t, f.tokens.Ledger, 2)
}

func TestPaymentCapturedUnknownInvoice(t *testing.T) {
	f := newCaptureFixture()

	res := f.handler.Handle(context.Background(), capturedEvent(99))
	require.False(t, res.Success)
	assert.Equal(t, events.KindNotFound, res.Kind)
	assert.False(t, res.Retryable())
}

func TestPaymentCapturedExpiredInvoice(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)
	inv.Status = billing.InvoiceStatusExpired

	res := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.False(t, res.Success)
	assert.Equal(t, events.KindInvalidState, res.Kind)
	assert.False(t, res.Retryable())
	assert.Equal(t, billing.InvoiceStatusExpired, inv.Status)
}

func TestPaymentCapturedActivationFailureRollsBackCleanly(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)
	f.tokens.AdjustErr = errors.New("deadlock detected")

	res := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.False(t, res.Success)
	assert.True(t, res.Retryable())

	// Capture and activation commit together, so nothing stuck.
	assert.Equal(t, billing.InvoiceStatusPending, inv.Status)
	assert.Nil(t, inv.Metadata["activation_complete"])
	assert.Equal(t, subscription.StatusPending, f.subs.Subs[1].Status)
	assert.Empty(t, f.tokens.Ledger)

	// The provider's redelivery re-runs the whole capture.
	retry := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.True(t, retry.Success, retry.Err)
	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, int64(1100), f.tokens.Balances[7])
	assert.Equal(t, true, inv.Metadata["activation_complete"])
}

func TestPaymentCapturedMarkerFailureNeverDoubleCredits(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)
	f.invoices.MetadataErr = errors.New("connection reset")

	res := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.False(t, res.Success)
	assert.True(t, res.Retryable())

	// The lost marker write rolls the credits back with it.
	assert.Equal(t, billing.InvoiceStatusPending, inv.Status)
	assert.Equal(t, int64(0), f.tokens.Balances[7])

	retry := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.True(t, retry.Success, retry.Err)
	assert.Equal(t, int64(1100), f.tokens.Balances[7])
	assert.Len(t, f.tokens.Ledger, 2)
	assert.Equal(t, true, inv.Metadata["activation_complete"])
}

func TestPaymentCapturedSkipsCreditsAlreadyOnLedger(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)

	// A grant referencing this invoice already committed; the invoice
	// is paid but never marked settled. The resumed run must activate
	// without stacking a second grant.
	inv.Status = billing.InvoiceStatusPaid
	f.tokens.Balances[7] = 1100
	f.tokens.Ledger = append(f.tokens.Ledger, token.TokenTransaction{
		UserID:      7,
		Amount:      1100,
		Type:        token.TypePurchase,
		ReferenceID: sql.NullString{String: "invoice:1", Valid: true},
	})

	res := f.handler.Handle(context.Background(), capturedEvent(inv.ID))
	require.True(t, res.Success, res.Err)
	assert.Equal(t, int64(0), res.Data["tokens_credited"])

	assert.Equal(t, int64(1100), f.tokens.Balances[7])
	assert.Len(t, f.tokens.Ledger, 1)
	assert.Equal(t, subscription.StatusActive, f.subs.Subs[1].Status)
	assert.Equal(t, true, inv.Metadata["activation_complete"])
}

func TestPaymentCapturedAmountMismatchRecorded(t *testing.T) {
	f := newCaptureFixture()
	inv := f.seedBasket(t)

	evt := capturedEvent(inv.ID)
	evt.Amount = decimal.RequireFromString("40.00")
	res := f.handler.Handle(context.Background(), evt)
	require.True(t, res.Success, res.Err)

	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "40", inv.Metadata["captured_amount"])
}

func TestPaymentCapturedWrongPayload(t *testing.T) {
	f := newCaptureFixture()

	res := f.handler.Handle(context.Background(), &events.PaymentFailedEvent{InvoiceID: 1})
	require.False(t, res.Success)
	assert.Equal(t, events.KindInternal, res.Kind)
}

func TestPaymentFailedCancelsPendingInvoice(t *testing.T) {
	invoices := testutil.NewFakeInvoiceRepo()
	inv := invoices.Add(&billing.UserInvoice{
		InvoiceNumber: "INV-TEST-2",
		UserID:        7,
		Status:        billing.InvoiceStatusPending,
		TotalAmount:   decimal.RequireFromString("29.00"),
	})
	h := NewPaymentFailedHandler(invoices, &testutil.TxBeginner{}, zap.NewNop())

	res := h.Handle(context.Background(), &events.PaymentFailedEvent{
		InvoiceID:    inv.ID,
		Provider:     "mock",
		ErrorCode:    "card_declined",
		ErrorMessage: "insufficient funds",
	})
	require.True(t, res.Success)
	assert.Equal(t, billing.InvoiceStatusCancelled, inv.Status)
	assert.Equal(t, "card_declined", inv.Metadata["failure_code"])
	assert.Equal(t, "insufficient funds", inv.Metadata["failure_message"])
}

func TestPaymentFailedSettledInvoiceIgnored(t *testing.T) {
	invoices := testutil.NewFakeInvoiceRepo()
	inv := invoices.Add(&billing.UserInvoice{
		InvoiceNumber: "INV-TEST-3",
		UserID:        7,
		Status:        billing.InvoiceStatusPaid,
		TotalAmount:   decimal.RequireFromString("29.00"),
	})
	h := NewPaymentFailedHandler(invoices, &testutil.TxBeginner{}, zap.NewNop())

	res := h.Handle(context.Background(), &events.PaymentFailedEvent{InvoiceID: inv.ID})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["idempotent"])
	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
}

func TestPaymentFailedWithoutInvoiceReference(t *testing.T) {
	h := NewPaymentFailedHandler(testutil.NewFakeInvoiceRepo(), &testutil.TxBeginner{}, zap.NewNop())

	res := h.Handle(context.Background(), &events.PaymentFailedEvent{Provider: "mock"})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["skipped"])
}

func TestSubscriptionCancelledByProviderRefCascades(t *testing.T) {
	subs := testutil.NewFakeSubscriptionRepo()
	addOns := testutil.NewFakeAddOnSubRepo()

	sub := subs.Add(&subscription.Subscription{
		UserID:         7,
		TarifPlanID:    1,
		Status:         subscription.StatusActive,
		ProviderSubRef: sql.NullString{String: "sub_remote_9", Valid: true},
	})
	addOns.Add(&subscription.AddOnSubscription{
		UserID:               7,
		AddOnID:              1,
		Status:               subscription.StatusActive,
		ParentSubscriptionID: sql.NullInt64{Int64: sub.ID, Valid: true},
	})

	h := NewSubscriptionCancelledHandler(subs, addOns, &testutil.TxBeginner{}, zap.NewNop())
	res := h.Handle(context.Background(), &events.SubscriptionCancelledEvent{
		ProviderSubRef: "sub_remote_9",
		Provider:       "stripe",
		Reason:         "provider_cancelled",
	})
	require.True(t, res.Success, res.Err)
	assert.Equal(t, 1, res.Data["cascaded_add_ons"])

	assert.Equal(t, subscription.StatusCancelled, sub.Status)
	assert.Equal(t, "provider_cancelled", sub.CancellationReason.String)
	assert.Equal(t, subscription.StatusCancelled, addOns.Subs[1].Status)
}

func TestSubscriptionCancelledIdempotent(t *testing.T) {
	subs := testutil.NewFakeSubscriptionRepo()
	sub := subs.Add(&subscription.Subscription{
		UserID: 7,
		Status: subscription.StatusCancelled,
	})

	h := NewSubscriptionCancelledHandler(subs, testutil.NewFakeAddOnSubRepo(), &testutil.TxBeginner{}, zap.NewNop())
	res := h.Handle(context.Background(), &events.SubscriptionCancelledEvent{SubscriptionID: sub.ID})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["idempotent"])
}

func TestSubscriptionCancelledUnknownSkipped(t *testing.T) {
	h := NewSubscriptionCancelledHandler(
		testutil.NewFakeSubscriptionRepo(), testutil.NewFakeAddOnSubRepo(),
		&testutil.TxBeginner{}, zap.NewNop())

	res := h.Handle(context.Background(), &events.SubscriptionCancelledEvent{ProviderSubRef: "sub_unknown"})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["skipped"])
}

func TestSubscriptionCancelledWithoutReference(t *testing.T) {
	h := NewSubscriptionCancelledHandler(
		testutil.NewFakeSubscriptionRepo(), testutil.NewFakeAddOnSubRepo(),
		&testutil.TxBeginner{}, zap.NewNop())

	res := h.Handle(context.Background(), &events.SubscriptionCancelledEvent{})
	require.False(t, res.Success)
	assert.Equal(t, events.KindValidation, res.Kind)
	assert.False(t, res.Retryable())
}
