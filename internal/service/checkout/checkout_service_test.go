// internal/service/checkout/checkout_service_test.go
package checkout

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/token"
	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"
	tokensvc "subpay-service/internal/service/token"
	"subpay-service/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type checkoutFixture struct {
	invoices *testutil.FakeInvoiceRepo
	catalog  *testutil.FakeCatalogRepo
	subs     *testutil.FakeSubscriptionRepo
	addOns   *testutil.FakeAddOnSubRepo
	users    *testutil.FakeUserRepo
	tokens   *testutil.FakeTokenRepo
	tokenSvc *tokensvc.TokenService
	adapter  *testutil.StubAdapter
	svc      *CheckoutService
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		invoices: testutil.NewFakeInvoiceRepo(),
		catalog:  testutil.NewFakeCatalogRepo(),
		subs:     testutil.NewFakeSubscriptionRepo(),
		addOns:   testutil.NewFakeAddOnSubRepo(),
		users:    testutil.NewFakeUserRepo(),
		tokens:   testutil.NewFakeTokenRepo(),
		adapter:  &testutil.StubAdapter{AdapterName: "stub"},
	}
	registry := payment.NewRegistry()
	registry.Register(f.adapter)

	db := &testutil.TxBeginner{}
	f.tokenSvc = tokensvc.NewTokenService(f.tokens, db, zap.NewNop())
	f.svc = NewCheckoutService(
		f.invoices, f.catalog, f.subs, f.addOns, f.users,
		f.tokenSvc, registry, nil, db, zap.NewNop(),
		24*time.Hour, "https://app.example.com/ok", "https://app.example.com/cancel",
	)
	return f
}

func (f *checkoutFixture) seedUser() *user.User {
	return f.users.Add(&user.User{ID: 7, Email: "u@example.com", Status: "active"})
}

func (f *checkoutFixture) seedCatalog() (*catalog.TarifPlan, *catalog.TokenBundle, *catalog.AddOn) {
	plan := &catalog.TarifPlan{
		Name:          "Pro",
		Slug:          "pro",
		Price:         decimal.RequireFromString("29.00"),
		Currency:      "EUR",
		BillingPeriod: catalog.PeriodMonthly,
		Status:        catalog.StatusActive,
	}
	_ = f.catalog.CreatePlan(context.Background(), plan)

	bundle := &catalog.TokenBundle{
		Name:        "Starter Pack",
		Slug:        "starter-pack",
		Price:       decimal.RequireFromString("5.00"),
		Currency:    "EUR",
		TokenAmount: 500,
		Status:      catalog.StatusActive,
	}
	_ = f.catalog.CreateBundle(context.Background(), bundle)

	addOn := &catalog.AddOn{
		Name:          "Priority Support",
		Slug:          "priority-support",
		Price:         decimal.RequireFromString("9.00"),
		Currency:      "EUR",
		BillingPeriod: catalog.PeriodMonthly,
		Status:        catalog.StatusActive,
	}
	_ = f.catalog.CreateAddOn(context.Background(), addOn)

	return plan, bundle, addOn
}

func TestCreateCheckoutBuildsInvoice(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()
	plan, bundle, addOn := f.seedCatalog()

	inv, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{
		TarifPlanID: plan.ID,
		Bundles:     []BundleSelection{{BundleID: bundle.ID, Quantity: 2}},
		AddOnIDs:    []int64{addOn.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, billing.InvoiceStatusPending, inv.Status)
	assert.NotEmpty(t, inv.InvoiceNumber)
	assert.Equal(t, "EUR", inv.Currency)
	// 29 + 2x5 + 9
	assert.True(t, decimal.RequireFromString("48.00").Equal(inv.TotalAmount))
	require.True(t, inv.ExpiresAt.Valid)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), inv.ExpiresAt.Time, time.Minute)

	require.Len(t, inv.Lines, 3)

	// The plan line links a pending subscription row.
	require.True(t, inv.Lines[0].SubscriptionID.Valid)
	sub := f.subs.Subs[inv.Lines[0].SubscriptionID.Int64]
	require.NotNil(t, sub)
	assert.Equal(t, subscription.StatusPending, sub.Status)
	assert.Equal(t, plan.ID, sub.TarifPlanID)

	assert.Equal(t, 2, inv.Lines[1].Quantity)
	assert.False(t, inv.Lines[1].SubscriptionID.Valid)

	// The add-on line links a pending add-on row, unparented for now.
	require.True(t, inv.Lines[2].AddOnSubscriptionID.Valid)
	addOnSub := f.addOns.Subs[inv.Lines[2].AddOnSubscriptionID.Int64]
	require.NotNil(t, addOnSub)
	assert.Equal(t, subscription.StatusPending, addOnSub.Status)
	assert.False(t, addOnSub.ParentSubscriptionID.Valid)
}

func TestCreateCheckoutRejectsEmptyBasket(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()

	_, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{})
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestCreateCheckoutRejectsLiveSubscription(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()
	plan, _, _ := f.seedCatalog()
	f.subs.Add(&subscription.Subscription{UserID: u.ID, TarifPlanID: plan.ID, Status: subscription.StatusActive})

	_, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{TarifPlanID: plan.ID})
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestCreateCheckoutRejectsInactiveBundle(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()
	_, bundle, _ := f.seedCatalog()
	bundle.Status = catalog.StatusInactive

	_, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{
		Bundles: []BundleSelection{{BundleID: bundle.ID}},
	})
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestCreateSessionSubscriptionMode(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()
	plan, bundle, _ := f.seedCatalog()

	inv, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{
		TarifPlanID: plan.ID,
		Bundles:     []BundleSelection{{BundleID: bundle.ID}},
	})
	require.NoError(t, err)

	resp, err := f.svc.CreateSession(context.Background(), u.ID, inv.ID, "stub")
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.Len(t, f.adapter.SessionParams, 1)
	params := f.adapter.SessionParams[0]
	assert.Equal(t, payment.ModeSubscription, params.Mode)
	assert.Equal(t, inv.InvoiceNumber, params.InvoiceNumber)
	require.Len(t, params.Lines, 2)
	assert.True(t, params.Lines[0].Recurring)
	assert.Equal(t, "month", params.Lines[0].Interval)
	assert.False(t, params.Lines[1].Recurring)

	// The provider customer ref sticks to the user for future sessions.
	assert.Equal(t, "cus_7", u.ProviderCustomerRef.String)

	assert.Equal(t, "stub", inv.Metadata["provider"])
	assert.Equal(t, "sess_1", inv.Metadata["checkout_session_id"])
}

func TestCreateSessionPaymentModeForOneTimeBasket(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()
	_, bundle, _ := f.seedCatalog()

	inv, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{
		Bundles: []BundleSelection{{BundleID: bundle.ID, Quantity: 3}},
	})
	require.NoError(t, err)

	resp, err := f.svc.CreateSession(context.Background(), u.ID, inv.ID, "stub")
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, payment.ModePayment, f.adapter.SessionParams[0].Mode)
}

func TestCreateSessionEnforcesOwnership(t *testing.T) {
	f := newCheckoutFixture()
	u := f.seedUser()
	_, bundle, _ := f.seedCatalog()

	inv, err := f.svc.CreateCheckout(context.Background(), u.ID, &CheckoutRequest{
		Bundles: []BundleSelection{{BundleID: bundle.ID}},
	})
	require.NoError(t, err)

	_, err = f.svc.CreateSession(context.Background(), 42, inv.ID, "stub")
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
}

func TestCreateSessionRejectsSettledInvoice(t *testing.T) {
	f := newCheckoutFixture()
	f.seedUser()
	inv := f.invoices.Add(&billing.UserInvoice{
		InvoiceNumber: "INV-PAID",
		UserID:        7,
		Status:        billing.InvoiceStatusPaid,
		TotalAmount:   decimal.RequireFromString("29.00"),
	})

	_, err := f.svc.CreateSession(context.Background(), 7, inv.ID, "stub")
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
}

func TestCreateSessionUnknownProvider(t *testing.T) {
	f := newCheckoutFixture()

	_, err := f.svc.CreateSession(context.Background(), 7, 1, "nope")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestRefundInvoice(t *testing.T) {
	f := newCheckoutFixture()
	inv := f.invoices.Add(&billing.UserInvoice{
		InvoiceNumber: "INV-PAID",
		UserID:        7,
		Status:        billing.InvoiceStatusPaid,
		TotalAmount:   decimal.RequireFromString("48.00"),
		Provider:      sql.NullString{String: "stub", Valid: true},
		PaymentRef:    sql.NullString{String: "pi_9", Valid: true},
	})

	resp, err := f.svc.RefundInvoice(context.Background(), inv.ID, decimal.RequireFromString("10.00"), "goodwill")
	require.NoError(t, err)
	require.True(t, resp.Success)

	assert.Equal(t, []string{"pi_9"}, f.adapter.RefundedRefs)
	// The invoice stays PAID; the refund lands in the audit metadata.
	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "re_pi_9", inv.Metadata["refund_id"])
	assert.Equal(t, "10", inv.Metadata["refund_amount"])
	assert.Equal(t, "goodwill", inv.Metadata["refund_reason"])
}

func TestRefundInvoiceFullClawsBackTokens(t *testing.T) {
	f := newCheckoutFixture()
	inv := f.invoices.Add(&billing.UserInvoice{
		UserID:      7,
		Status:      billing.InvoiceStatusPaid,
		TotalAmount: decimal.RequireFromString("48.00"),
		Provider:    sql.NullString{String: "stub", Valid: true},
		PaymentRef:  sql.NullString{String: "pi_9", Valid: true},
	})
	_, err := f.tokenSvc.Credit(context.Background(), 7, 600, token.TypePurchase,
		tokensvc.InvoiceRef(inv.ID), "Starter Pack")
	require.NoError(t, err)

	resp, err := f.svc.RefundInvoice(context.Background(), inv.ID, decimal.RequireFromString("48.00"), "defect")
	require.NoError(t, err)
	require.True(t, resp.Success)

	assert.Equal(t, int64(0), f.tokens.Balances[7])
	assert.Equal(t, int64(600), inv.Metadata["tokens_clawed_back"])
}

func TestRefundInvoiceRejectsWhenTokensSpent(t *testing.T) {
	f := newCheckoutFixture()
	inv := f.invoices.Add(&billing.UserInvoice{
		UserID:      7,
		Status:      billing.InvoiceStatusPaid,
		TotalAmount: decimal.RequireFromString("48.00"),
		Provider:    sql.NullString{String: "stub", Valid: true},
		PaymentRef:  sql.NullString{String: "pi_9", Valid: true},
	})
	ctx := context.Background()
	_, err := f.tokenSvc.Credit(ctx, 7, 600, token.TypePurchase, tokensvc.InvoiceRef(inv.ID), "")
	require.NoError(t, err)
	_, err = f.tokenSvc.Debit(ctx, 7, 500, token.TypeUsage, "", "spent already")
	require.NoError(t, err)

	_, err = f.svc.RefundInvoice(ctx, inv.ID, decimal.RequireFromString("48.00"), "")
	assert.ErrorIs(t, err, xerrors.ErrInsufficientBalance)
	// Rejected before the provider was touched.
	assert.Empty(t, f.adapter.RefundedRefs)
	assert.Equal(t, int64(100), f.tokens.Balances[7])
}

func TestRefundInvoiceRestoresTokensOnProviderReject(t *testing.T) {
	f := newCheckoutFixture()
	f.adapter.RefundResp = &payment.Response{Success: false, Err: "charge disputed", ErrCode: "charge_disputed"}
	inv := f.invoices.Add(&billing.UserInvoice{
		UserID:      7,
		Status:      billing.InvoiceStatusPaid,
		TotalAmount: decimal.RequireFromString("48.00"),
		Provider:    sql.NullString{String: "stub", Valid: true},
		PaymentRef:  sql.NullString{String: "pi_9", Valid: true},
	})
	_, err := f.tokenSvc.Credit(context.Background(), 7, 600, token.TypePurchase,
		tokensvc.InvoiceRef(inv.ID), "")
	require.NoError(t, err)

	resp, err := f.svc.RefundInvoice(context.Background(), inv.ID, decimal.RequireFromString("48.00"), "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	// The clawback is reversed when the provider rejects the refund.
	assert.Equal(t, int64(600), f.tokens.Balances[7])
}

func TestRefundInvoiceRejectsPending(t *testing.T) {
	f := newCheckoutFixture()
	inv := f.invoices.Add(&billing.UserInvoice{
		UserID:      7,
		Status:      billing.InvoiceStatusPending,
		TotalAmount: decimal.RequireFromString("48.00"),
	})

	_, err := f.svc.RefundInvoice(context.Background(), inv.ID, decimal.RequireFromString("10.00"), "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
}

func TestRefundInvoiceRejectsExcessAmount(t *testing.T) {
	f := newCheckoutFixture()
	inv := f.invoices.Add(&billing.UserInvoice{
		UserID:      7,
		Status:      billing.InvoiceStatusPaid,
		TotalAmount: decimal.RequireFromString("48.00"),
		Provider:    sql.NullString{String: "stub", Valid: true},
		PaymentRef:  sql.NullString{String: "pi_9", Valid: true},
	})

	_, err := f.svc.RefundInvoice(context.Background(), inv.ID, decimal.RequireFromString("48.01"), "")
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestExpireInvoices(t *testing.T) {
	f := newCheckoutFixture()
	overdue := f.invoices.Add(&billing.UserInvoice{
		UserID:    7,
		Status:    billing.InvoiceStatusPending,
		ExpiresAt: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	})
	fresh := f.invoices.Add(&billing.UserInvoice{
		UserID:    7,
		Status:    billing.InvoiceStatusPending,
		ExpiresAt: sql.NullTime{Time: time.Now().Add(time.Hour), Valid: true},
	})

	n, err := f.svc.ExpireInvoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, billing.InvoiceStatusExpired, overdue.Status)
	assert.Equal(t, billing.InvoiceStatusPending, fresh.Status)
}
