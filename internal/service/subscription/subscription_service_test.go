// internal/service/subscription/subscription_service_test.go
package subscription

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"
	"subpay-service/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type subFixture struct {
	users    *testutil.FakeUserRepo
	catalog  *testutil.FakeCatalogRepo
	subs     *testutil.FakeSubscriptionRepo
	addOns   *testutil.FakeAddOnSubRepo
	invoices *testutil.FakeInvoiceRepo
	adapter  *testutil.StubAdapter
	svc      *SubscriptionService
}

func newSubFixture() *subFixture {
	f := &subFixture{
		users:    testutil.NewFakeUserRepo(),
		catalog:  testutil.NewFakeCatalogRepo(),
		subs:     testutil.NewFakeSubscriptionRepo(),
		addOns:   testutil.NewFakeAddOnSubRepo(),
		invoices: testutil.NewFakeInvoiceRepo(),
		adapter:  &testutil.StubAdapter{AdapterName: "stub"},
	}
	registry := payment.NewRegistry()
	registry.Register(f.adapter)

	f.svc = NewSubscriptionService(
		f.subs, f.addOns, f.catalog, f.users, f.invoices,
		registry, &testutil.TxBeginner{}, zap.NewNop(),
		"stub", 72*time.Hour,
	)
	return f
}

func (f *subFixture) seedUser() *user.User {
	return f.users.Add(&user.User{ID: 7, Email: "u@example.com", Status: "active"})
}

func (f *subFixture) seedPlan(trialDays int) *catalog.TarifPlan {
	plan := &catalog.TarifPlan{
		Name:          "Pro",
		Slug:          "pro",
		Price:         decimal.RequireFromString("29.00"),
		Currency:      "EUR",
		BillingPeriod: catalog.PeriodMonthly,
		TrialDays:     trialDays,
		Status:        catalog.StatusActive,
	}
	_ = f.catalog.CreatePlan(context.Background(), plan)
	return plan
}

func TestStartTrial(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(14)

	sub, err := f.svc.StartTrial(context.Background(), u.ID, plan.ID)
	require.NoError(t, err)

	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	assert.Equal(t, plan.ID, sub.TarifPlanID)
	require.True(t, sub.TrialEndAt.Valid)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 14), sub.TrialEndAt.Time, time.Minute)
	assert.True(t, u.HasUsedTrial)

	// Trials never create an invoice and never touch the ledger.
	assert.Empty(t, f.invoices.Invoices)
}

func TestStartTrialRejectsSecondTrial(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	u.HasUsedTrial = true
	plan := f.seedPlan(14)

	_, err := f.svc.StartTrial(context.Background(), u.ID, plan.ID)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestStartTrialRejectsLiveSubscription(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(14)
	f.subs.Add(&subscription.Subscription{UserID: u.ID, TarifPlanID: plan.ID, Status: subscription.StatusActive})

	_, err := f.svc.StartTrial(context.Background(), u.ID, plan.ID)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestStartTrialRejectsPlanWithoutTrial(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(0)

	_, err := f.svc.StartTrial(context.Background(), u.ID, plan.ID)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestStartTrialRejectsInactivePlan(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(14)
	plan.Status = catalog.StatusInactive

	_, err := f.svc.StartTrial(context.Background(), u.ID, plan.ID)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestStartTrialRejectsInactiveUser(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	u.Status = "suspended"
	plan := f.seedPlan(14)

	_, err := f.svc.StartTrial(context.Background(), u.ID, plan.ID)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
}

func TestCancelCascadesAndTearsDownRemote(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(0)

	sub := f.subs.Add(&subscription.Subscription{
		UserID:         u.ID,
		TarifPlanID:    plan.ID,
		Status:         subscription.StatusActive,
		ProviderSubRef: sql.NullString{String: "sub_remote_5", Valid: true},
	})
	addOn := f.addOns.Add(&subscription.AddOnSubscription{
		UserID:               u.ID,
		AddOnID:              1,
		Status:               subscription.StatusActive,
		ParentSubscriptionID: sql.NullInt64{Int64: sub.ID, Valid: true},
	})

	err := f.svc.Cancel(context.Background(), u.ID, sub.ID, "too expensive")
	require.NoError(t, err)

	assert.Equal(t, subscription.StatusCancelled, sub.Status)
	assert.Equal(t, "too expensive", sub.CancellationReason.String)
	assert.Equal(t, subscription.StatusCancelled, addOn.Status)
	assert.Equal(t, []string{"sub_remote_5"}, f.adapter.CancelledRefs)
}

func TestCancelSkipsRemoteWithoutRef(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	sub := f.subs.Add(&subscription.Subscription{UserID: u.ID, Status: subscription.StatusTrialing})

	require.NoError(t, f.svc.Cancel(context.Background(), u.ID, sub.ID, "changed my mind"))
	assert.Equal(t, subscription.StatusCancelled, sub.Status)
	assert.Empty(t, f.adapter.CancelledRefs)
}

func TestCancelIdempotent(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	sub := f.subs.Add(&subscription.Subscription{UserID: u.ID, Status: subscription.StatusCancelled})

	assert.NoError(t, f.svc.Cancel(context.Background(), u.ID, sub.ID, "again"))
}

func TestCancelEnforcesOwnership(t *testing.T) {
	f := newSubFixture()
	sub := f.subs.Add(&subscription.Subscription{UserID: 42, Status: subscription.StatusActive})

	err := f.svc.Cancel(context.Background(), 7, sub.ID, "not mine")
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
	assert.Equal(t, subscription.StatusActive, sub.Status)
}

func TestCancelRejectsPendingSubscription(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	sub := f.subs.Add(&subscription.Subscription{UserID: u.ID, Status: subscription.StatusPending})

	err := f.svc.Cancel(context.Background(), u.ID, sub.ID, "never paid")
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
}

func TestActivateRemediatesPendingSubscription(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(0)
	sub := f.subs.Add(&subscription.Subscription{
		UserID:      u.ID,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusPending,
	})

	got, err := f.svc.Activate(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	require.True(t, got.ExpiresAt.Valid)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), got.ExpiresAt.Time, time.Minute)
}

func TestActivateRejectsTrialingSubscription(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(14)
	sub := f.subs.Add(&subscription.Subscription{
		UserID:      u.ID,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusTrialing,
		TrialEndAt:  sql.NullTime{Time: time.Now().AddDate(0, 0, 14), Valid: true},
	})

	_, err := f.svc.Activate(context.Background(), sub.ID)
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
}

func TestActivateIdempotentForActiveSubscription(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(0)
	sub := f.subs.Add(&subscription.Subscription{
		UserID:      u.ID,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusActive,
	})

	got, err := f.svc.Activate(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestExpireTrialsIssuesConversionInvoice(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(14)

	sub := f.subs.Add(&subscription.Subscription{
		UserID:      u.ID,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusTrialing,
		TrialEndAt:  sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	})

	n, err := f.svc.ExpireTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, subscription.StatusCancelled, sub.Status)
	assert.Equal(t, "trial_ended", sub.CancellationReason.String)
	// A post-trial cancelled row with a trial history is still payable
	// through the conversion invoice.
	assert.True(t, sub.CanActivate())

	require.Len(t, f.invoices.Invoices, 1)
	var inv *billing.UserInvoice
	for _, i := range f.invoices.Invoices {
		inv = i
	}
	assert.Equal(t, billing.InvoiceStatusPending, inv.Status)
	assert.Equal(t, "trial_conversion", inv.Metadata["origin"])
	assert.True(t, plan.Price.Equal(inv.TotalAmount))
	require.Len(t, inv.Lines, 1)
	require.True(t, inv.Lines[0].SubscriptionID.Valid)
	assert.Equal(t, sub.ID, inv.Lines[0].SubscriptionID.Int64)
	require.True(t, inv.ExpiresAt.Valid)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), inv.ExpiresAt.Time, time.Minute)
}

func TestExpireTrialsIgnoresRunningTrials(t *testing.T) {
	f := newSubFixture()
	u := f.seedUser()
	plan := f.seedPlan(14)
	sub := f.subs.Add(&subscription.Subscription{
		UserID:      u.ID,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusTrialing,
		TrialEndAt:  sql.NullTime{Time: time.Now().Add(24 * time.Hour), Valid: true},
	})

	n, err := f.svc.ExpireTrials(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	assert.Empty(t, f.invoices.Invoices)
}

func TestExpireSubscriptions(t *testing.T) {
	f := newSubFixture()
	lapsed := f.subs.Add(&subscription.Subscription{
		UserID:    7,
		Status:    subscription.StatusActive,
		ExpiresAt: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	})
	current := f.subs.Add(&subscription.Subscription{
		UserID:    8,
		Status:    subscription.StatusActive,
		ExpiresAt: sql.NullTime{Time: time.Now().Add(time.Hour), Valid: true},
	})

	n, err := f.svc.ExpireSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, subscription.StatusExpired, lapsed.Status)
	assert.Equal(t, subscription.StatusActive, current.Status)
}
