// internal/testutil/fakes.go
package testutil

import (
	"context"
	"fmt"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/token"
	"subpay-service/internal/domain/user"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// In-memory repository fakes for service tests. They implement the
// domain repository interfaces with plain maps and no locking; tests
// drive them from a single goroutine. Each fake exposes a Snapshot
// method so a TxBeginner can roll its state back, with mutations
// restored in place so row pointers held by tests stay live.

func restoreMap[K comparable, V any](live map[K]*V, saved map[K]V) {
	for id := range live {
		if _, ok := saved[id]; !ok {
			delete(live, id)
		}
	}
	for id, v := range saved {
		if row, ok := live[id]; ok {
			*row = v
		} else {
			row := v
			live[id] = &row
		}
	}
}

// ---------- users ----------

type FakeUserRepo struct {
	Users map[int64]*user.User
	seq   int64
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{Users: make(map[int64]*user.User)}
}

func (f *FakeUserRepo) Add(u *user.User) *user.User {
	if u.ID == 0 {
		f.seq++
		u.ID = f.seq
	} else if u.ID > f.seq {
		f.seq = u.ID
	}
	f.Users[u.ID] = u
	return u
}

// Snapshot captures the user table for transaction rollback.
func (f *FakeUserRepo) Snapshot() func() {
	saved := make(map[int64]user.User, len(f.Users))
	for id, u := range f.Users {
		saved[id] = *u
	}
	seq := f.seq
	return func() {
		restoreMap(f.Users, saved)
		f.seq = seq
	}
}

func (f *FakeUserRepo) Create(ctx context.Context, u *user.User) error {
	for _, existing := range f.Users {
		if existing.Email == u.Email {
			return xerrors.ErrConflict
		}
	}
	u.CreatedAt = time.Now()
	f.Add(u)
	return nil
}

func (f *FakeUserRepo) FindByID(ctx context.Context, id int64) (*user.User, error) {
	u, ok := f.Users[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (f *FakeUserRepo) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	for _, u := range f.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *FakeUserRepo) MarkTrialUsedWithTx(ctx context.Context, tx pgx.Tx, id int64) error {
	u, ok := f.Users[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	u.HasUsedTrial = true
	return nil
}

func (f *FakeUserRepo) SetProviderCustomerRef(ctx context.Context, id int64, ref string) error {
	u, ok := f.Users[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	u.ProviderCustomerRef.String = ref
	u.ProviderCustomerRef.Valid = true
	return nil
}

// ---------- catalog ----------

type FakeCatalogRepo struct {
	Plans   map[int64]*catalog.TarifPlan
	Bundles map[int64]*catalog.TokenBundle
	AddOns  map[int64]*catalog.AddOn
	seq     int64
}

func NewFakeCatalogRepo() *FakeCatalogRepo {
	return &FakeCatalogRepo{
		Plans:   make(map[int64]*catalog.TarifPlan),
		Bundles: make(map[int64]*catalog.TokenBundle),
		AddOns:  make(map[int64]*catalog.AddOn),
	}
}

func (f *FakeCatalogRepo) nextID(id int64) int64 {
	if id != 0 {
		if id > f.seq {
			f.seq = id
		}
		return id
	}
	f.seq++
	return f.seq
}

func (f *FakeCatalogRepo) CreatePlan(ctx context.Context, p *catalog.TarifPlan) error {
	p.ID = f.nextID(p.ID)
	f.Plans[p.ID] = p
	return nil
}

func (f *FakeCatalogRepo) UpdatePlan(ctx context.Context, p *catalog.TarifPlan) error {
	if _, ok := f.Plans[p.ID]; !ok {
		return xerrors.ErrNotFound
	}
	f.Plans[p.ID] = p
	return nil
}

func (f *FakeCatalogRepo) FindPlanByID(ctx context.Context, id int64) (*catalog.TarifPlan, error) {
	p, ok := f.Plans[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return p, nil
}

func (f *FakeCatalogRepo) ListPlans(ctx context.Context, activeOnly bool) ([]catalog.TarifPlan, error) {
	var out []catalog.TarifPlan
	for _, p := range f.Plans {
		if activeOnly && !p.IsActive() {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *FakeCatalogRepo) CreateBundle(ctx context.Context, b *catalog.TokenBundle) error {
	b.ID = f.nextID(b.ID)
	f.Bundles[b.ID] = b
	return nil
}

func (f *FakeCatalogRepo) UpdateBundle(ctx context.Context, b *catalog.TokenBundle) error {
	if _, ok := f.Bundles[b.ID]; !ok {
		return xerrors.ErrNotFound
	}
	f.Bundles[b.ID] = b
	return nil
}

func (f *FakeCatalogRepo) FindBundleByID(ctx context.Context, id int64) (*catalog.TokenBundle, error) {
	b, ok := f.Bundles[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return b, nil
}

func (f *FakeCatalogRepo) ListBundles(ctx context.Context, activeOnly bool) ([]catalog.TokenBundle, error) {
	var out []catalog.TokenBundle
	for _, b := range f.Bundles {
		if activeOnly && !b.IsActive() {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (f *FakeCatalogRepo) CreateAddOn(ctx context.Context, a *catalog.AddOn) error {
	a.ID = f.nextID(a.ID)
	f.AddOns[a.ID] = a
	return nil
}

func (f *FakeCatalogRepo) UpdateAddOn(ctx context.Context, a *catalog.AddOn) error {
	if _, ok := f.AddOns[a.ID]; !ok {
		return xerrors.ErrNotFound
	}
	f.AddOns[a.ID] = a
	return nil
}

func (f *FakeCatalogRepo) FindAddOnByID(ctx context.Context, id int64) (*catalog.AddOn, error) {
	a, ok := f.AddOns[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return a, nil
}

func (f *FakeCatalogRepo) ListAddOns(ctx context.Context, activeOnly bool) ([]catalog.AddOn, error) {
	var out []catalog.AddOn
	for _, a := range f.AddOns {
		if activeOnly && !a.IsActive() {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// ---------- invoices ----------

type FakeInvoiceRepo struct {
	Invoices map[int64]*billing.UserInvoice
	seq      int64
	lineSeq  int64

	// MetadataErr forces the next AppendMetadataWithTx to fail.
	MetadataErr error
}

func NewFakeInvoiceRepo() *FakeInvoiceRepo {
	return &FakeInvoiceRepo{Invoices: make(map[int64]*billing.UserInvoice)}
}

// Snapshot captures invoices, lines and metadata for transaction rollback.
func (f *FakeInvoiceRepo) Snapshot() func() {
	saved := make(map[int64]billing.UserInvoice, len(f.Invoices))
	for id, inv := range f.Invoices {
		c := *inv
		c.Lines = append([]billing.InvoiceLineItem(nil), inv.Lines...)
		if inv.Metadata != nil {
			c.Metadata = make(map[string]interface{}, len(inv.Metadata))
			for k, v := range inv.Metadata {
				c.Metadata[k] = v
			}
		}
		saved[id] = c
	}
	seq, lineSeq := f.seq, f.lineSeq
	return func() {
		restoreMap(f.Invoices, saved)
		f.seq, f.lineSeq = seq, lineSeq
	}
}

func (f *FakeInvoiceRepo) Add(inv *billing.UserInvoice) *billing.UserInvoice {
	if inv.ID == 0 {
		f.seq++
		inv.ID = f.seq
	} else if inv.ID > f.seq {
		f.seq = inv.ID
	}
	for i := range inv.Lines {
		if inv.Lines[i].ID == 0 {
			f.lineSeq++
			inv.Lines[i].ID = f.lineSeq
		}
		inv.Lines[i].InvoiceID = inv.ID
	}
	f.Invoices[inv.ID] = inv
	return inv
}

func (f *FakeInvoiceRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, inv *billing.UserInvoice) error {
	inv.CreatedAt = time.Now()
	f.Add(inv)
	return nil
}

func (f *FakeInvoiceRepo) FindByID(ctx context.Context, id int64) (*billing.UserInvoice, error) {
	inv, ok := f.Invoices[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return inv, nil
}

func (f *FakeInvoiceRepo) FindByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*billing.UserInvoice, error) {
	return f.FindByID(ctx, id)
}

func (f *FakeInvoiceRepo) FindByNumber(ctx context.Context, number string) (*billing.UserInvoice, error) {
	for _, inv := range f.Invoices {
		if inv.InvoiceNumber == number {
			return inv, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *FakeInvoiceRepo) ListByUser(ctx context.Context, userID int64) ([]billing.UserInvoice, error) {
	var out []billing.UserInvoice
	for _, inv := range f.Invoices {
		if inv.UserID == userID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *FakeInvoiceRepo) MarkPaidWithTx(ctx context.Context, tx pgx.Tx, id int64, paymentRef, provider string, paidAt time.Time) error {
	inv, ok := f.Invoices[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	if inv.Status != billing.InvoiceStatusPending {
		return xerrors.ErrInvalidState
	}
	inv.Status = billing.InvoiceStatusPaid
	inv.PaymentRef.String = paymentRef
	inv.PaymentRef.Valid = true
	inv.Provider.String = provider
	inv.Provider.Valid = true
	inv.PaidAt.Time = paidAt
	inv.PaidAt.Valid = true
	return nil
}

func (f *FakeInvoiceRepo) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status billing.InvoiceStatus) error {
	inv, ok := f.Invoices[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	inv.Status = status
	return nil
}

func (f *FakeInvoiceRepo) AppendMetadata(ctx context.Context, id int64, patch map[string]interface{}) error {
	inv, ok := f.Invoices[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	if inv.Metadata == nil {
		inv.Metadata = make(map[string]interface{})
	}
	for k, v := range patch {
		inv.Metadata[k] = v
	}
	return nil
}

func (f *FakeInvoiceRepo) AppendMetadataWithTx(ctx context.Context, tx pgx.Tx, id int64, patch map[string]interface{}) error {
	if f.MetadataErr != nil {
		err := f.MetadataErr
		f.MetadataErr = nil
		return err
	}
	return f.AppendMetadata(ctx, id, patch)
}

func (f *FakeInvoiceRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, inv := range f.Invoices {
		if inv.Status == billing.InvoiceStatusPending && inv.ExpiresAt.Valid && inv.ExpiresAt.Time.Before(now) {
			inv.Status = billing.InvoiceStatusExpired
			n++
		}
	}
	return n, nil
}

// ---------- subscriptions ----------

type FakeSubscriptionRepo struct {
	Subs map[int64]*subscription.Subscription
	seq  int64
}

func NewFakeSubscriptionRepo() *FakeSubscriptionRepo {
	return &FakeSubscriptionRepo{Subs: make(map[int64]*subscription.Subscription)}
}

// Snapshot captures the subscription table for transaction rollback.
func (f *FakeSubscriptionRepo) Snapshot() func() {
	saved := make(map[int64]subscription.Subscription, len(f.Subs))
	for id, s := range f.Subs {
		saved[id] = *s
	}
	seq := f.seq
	return func() {
		restoreMap(f.Subs, saved)
		f.seq = seq
	}
}

func (f *FakeSubscriptionRepo) Add(s *subscription.Subscription) *subscription.Subscription {
	if s.ID == 0 {
		f.seq++
		s.ID = f.seq
	} else if s.ID > f.seq {
		f.seq = s.ID
	}
	f.Subs[s.ID] = s
	return s
}

func (f *FakeSubscriptionRepo) Create(ctx context.Context, s *subscription.Subscription) error {
	s.CreatedAt = time.Now()
	f.Add(s)
	return nil
}

func (f *FakeSubscriptionRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, s *subscription.Subscription) error {
	return f.Create(ctx, s)
}

func (f *FakeSubscriptionRepo) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	s, ok := f.Subs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return s, nil
}

func (f *FakeSubscriptionRepo) FindByProviderRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	for _, s := range f.Subs {
		if s.ProviderSubRef.Valid && s.ProviderSubRef.String == ref {
			return s, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *FakeSubscriptionRepo) FindLiveByUser(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	for _, s := range f.Subs {
		if s.UserID == userID && (s.Status == subscription.StatusActive || s.Status == subscription.StatusTrialing) {
			return s, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *FakeSubscriptionRepo) ListByUser(ctx context.Context, userID int64) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	for _, s := range f.Subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *FakeSubscriptionRepo) ActivateWithTx(ctx context.Context, tx pgx.Tx, id int64, startedAt, expiresAt time.Time, providerRef string) error {
	s, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	if s.Status != subscription.StatusPending && s.Status != subscription.StatusCancelled {
		return fmt.Errorf("subscription %d not activatable: %w", id, xerrors.ErrInvalidState)
	}
	s.Status = subscription.StatusActive
	s.StartedAt.Time = startedAt
	s.StartedAt.Valid = true
	s.ExpiresAt.Time = expiresAt
	s.ExpiresAt.Valid = true
	if providerRef != "" {
		s.ProviderSubRef.String = providerRef
		s.ProviderSubRef.Valid = true
	}
	s.CancelledAt.Valid = false
	s.CancelledAt.Time = time.Time{}
	s.CancellationReason.Valid = false
	s.CancellationReason.String = ""
	return nil
}

func (f *FakeSubscriptionRepo) CancelWithTx(ctx context.Context, tx pgx.Tx, id int64, reason string, at time.Time) error {
	s, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	s.Status = subscription.StatusCancelled
	s.CancelledAt.Time = at
	s.CancelledAt.Valid = true
	s.CancellationReason.String = reason
	s.CancellationReason.Valid = true
	return nil
}

func (f *FakeSubscriptionRepo) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status subscription.Status) error {
	s, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *FakeSubscriptionRepo) FindTrialsEndedBefore(ctx context.Context, cutoff time.Time) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	for _, s := range f.Subs {
		if s.Status == subscription.StatusTrialing && s.TrialEndAt.Valid && s.TrialEndAt.Time.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *FakeSubscriptionRepo) FindActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	for _, s := range f.Subs {
		if s.Status == subscription.StatusActive && s.ExpiresAt.Valid && s.ExpiresAt.Time.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

// ---------- add-on subscriptions ----------

type FakeAddOnSubRepo struct {
	Subs map[int64]*subscription.AddOnSubscription
	seq  int64
}

func NewFakeAddOnSubRepo() *FakeAddOnSubRepo {
	return &FakeAddOnSubRepo{Subs: make(map[int64]*subscription.AddOnSubscription)}
}

// Snapshot captures the add-on subscription table for transaction rollback.
func (f *FakeAddOnSubRepo) Snapshot() func() {
	saved := make(map[int64]subscription.AddOnSubscription, len(f.Subs))
	for id, a := range f.Subs {
		saved[id] = *a
	}
	seq := f.seq
	return func() {
		restoreMap(f.Subs, saved)
		f.seq = seq
	}
}

func (f *FakeAddOnSubRepo) Add(a *subscription.AddOnSubscription) *subscription.AddOnSubscription {
	if a.ID == 0 {
		f.seq++
		a.ID = f.seq
	} else if a.ID > f.seq {
		f.seq = a.ID
	}
	f.Subs[a.ID] = a
	return a
}

func (f *FakeAddOnSubRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, a *subscription.AddOnSubscription) error {
	a.CreatedAt = time.Now()
	f.Add(a)
	return nil
}

func (f *FakeAddOnSubRepo) FindByID(ctx context.Context, id int64) (*subscription.AddOnSubscription, error) {
	a, ok := f.Subs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return a, nil
}

func (f *FakeAddOnSubRepo) ListByUser(ctx context.Context, userID int64) ([]subscription.AddOnSubscription, error) {
	var out []subscription.AddOnSubscription
	for _, a := range f.Subs {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *FakeAddOnSubRepo) FindActiveByParent(ctx context.Context, parentID int64) ([]subscription.AddOnSubscription, error) {
	var out []subscription.AddOnSubscription
	for _, a := range f.Subs {
		if a.ParentSubscriptionID.Valid && a.ParentSubscriptionID.Int64 == parentID && a.Status == subscription.StatusActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *FakeAddOnSubRepo) ActivateWithTx(ctx context.Context, tx pgx.Tx, id int64, startedAt, expiresAt time.Time) error {
	a, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	if a.Status != subscription.StatusPending {
		return fmt.Errorf("add-on subscription %d not activatable: %w", id, xerrors.ErrInvalidState)
	}
	a.Status = subscription.StatusActive
	a.StartedAt.Time = startedAt
	a.StartedAt.Valid = true
	a.ExpiresAt.Time = expiresAt
	a.ExpiresAt.Valid = true
	return nil
}

func (f *FakeAddOnSubRepo) SetParentWithTx(ctx context.Context, tx pgx.Tx, id, parentID int64) error {
	a, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	if !a.ParentSubscriptionID.Valid {
		a.ParentSubscriptionID.Int64 = parentID
		a.ParentSubscriptionID.Valid = true
	}
	return nil
}

func (f *FakeAddOnSubRepo) CancelWithTx(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	a, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	a.Status = subscription.StatusCancelled
	a.CancelledAt.Time = at
	a.CancelledAt.Valid = true
	return nil
}

func (f *FakeAddOnSubRepo) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status subscription.Status) error {
	a, ok := f.Subs[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	a.Status = status
	return nil
}

// ---------- token ledger ----------

type FakeTokenRepo struct {
	Balances map[int64]int64
	Ledger   []token.TokenTransaction
	seq      int64

	// AdjustErr forces the next AdjustWithTx to fail.
	AdjustErr error
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{Balances: make(map[int64]int64)}
}

// Snapshot captures balances and the ledger for transaction rollback.
func (f *FakeTokenRepo) Snapshot() func() {
	balances := make(map[int64]int64, len(f.Balances))
	for id, b := range f.Balances {
		balances[id] = b
	}
	ledger := append([]token.TokenTransaction(nil), f.Ledger...)
	seq := f.seq
	return func() {
		f.Balances = balances
		f.Ledger = ledger
		f.seq = seq
	}
}

func (f *FakeTokenRepo) AdjustWithTx(ctx context.Context, tx pgx.Tx, txn *token.TokenTransaction) error {
	if f.AdjustErr != nil {
		err := f.AdjustErr
		f.AdjustErr = nil
		return err
	}

	balance := f.Balances[txn.UserID]
	if balance+txn.Amount < 0 {
		return fmt.Errorf("balance %d, requested %d: %w", balance, txn.Amount, xerrors.ErrInsufficientBalance)
	}

	f.seq++
	txn.ID = f.seq
	txn.CreatedAt = time.Now()
	f.Ledger = append(f.Ledger, *txn)
	f.Balances[txn.UserID] = balance + txn.Amount
	return nil
}

func (f *FakeTokenRepo) GetBalance(ctx context.Context, userID int64) (*token.UserTokenBalance, error) {
	return &token.UserTokenBalance{UserID: userID, Balance: f.Balances[userID]}, nil
}

func (f *FakeTokenRepo) ListTransactions(ctx context.Context, userID int64, limit int) ([]token.TokenTransaction, error) {
	var out []token.TokenTransaction
	for i := len(f.Ledger) - 1; i >= 0; i-- {
		if f.Ledger[i].UserID != userID {
			continue
		}
		out = append(out, f.Ledger[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeTokenRepo) SumTransactions(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	for _, t := range f.Ledger {
		if t.UserID == userID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (f *FakeTokenRepo) SumByReference(ctx context.Context, userID int64, referenceID string) (int64, error) {
	var sum int64
	for _, t := range f.Ledger {
		if t.UserID == userID && t.ReferenceID.Valid && t.ReferenceID.String == referenceID {
			sum += t.Amount
		}
	}
	return sum, nil
}
