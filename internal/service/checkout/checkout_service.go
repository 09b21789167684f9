// internal/service/checkout/checkout_service.go
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/token"
	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"
	"subpay-service/internal/pkg/idempotency"
	"subpay-service/internal/pkg/ref"
	tokensvc "subpay-service/internal/service/token"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultCurrency = "EUR"

type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// BundleSelection is one token bundle position in a checkout.
type BundleSelection struct {
	BundleID int64 `json:"bundle_id" binding:"required"`
	Quantity int   `json:"quantity"`
}

// CheckoutRequest describes one basket: at most one plan, any number
// of token bundles and add-ons.
type CheckoutRequest struct {
	TarifPlanID int64             `json:"tarif_plan_id"`
	Bundles     []BundleSelection `json:"bundles"`
	AddOnIDs    []int64           `json:"add_on_ids"`
}

// CheckoutService turns a basket into a pending invoice with companion
// pending entitlement rows, and opens provider checkout sessions for
// pending invoices. Nothing a checkout creates becomes usable until
// payment capture activates it.
type CheckoutService struct {
	invoiceRepo  billing.InvoiceRepository
	catalogRepo  catalog.Repository
	subRepo      subscription.Repository
	addOnSubRepo subscription.AddOnRepository
	userRepo     user.Repository
	tokenSvc     *tokensvc.TokenService
	providers    *payment.Registry
	statusCache  *idempotency.StatusCache
	db           TxBeginner
	logger       *zap.Logger

	invoiceTTL time.Duration
	successURL string
	cancelURL  string
}

func NewCheckoutService(
	invoiceRepo billing.InvoiceRepository,
	catalogRepo catalog.Repository,
	subRepo subscription.Repository,
	addOnSubRepo subscription.AddOnRepository,
	userRepo user.Repository,
	tokenSvc *tokensvc.TokenService,
	providers *payment.Registry,
	statusCache *idempotency.StatusCache,
	db TxBeginner,
	logger *zap.Logger,
	invoiceTTL time.Duration,
	successURL, cancelURL string,
) *CheckoutService {
	if invoiceTTL <= 0 {
		invoiceTTL = 24 * time.Hour
	}
	return &CheckoutService{
		invoiceRepo:  invoiceRepo,
		catalogRepo:  catalogRepo,
		subRepo:      subRepo,
		addOnSubRepo: addOnSubRepo,
		userRepo:     userRepo,
		tokenSvc:     tokenSvc,
		providers:    providers,
		statusCache:  statusCache,
		db:           db,
		logger:       logger,
		invoiceTTL:   invoiceTTL,
		successURL:   successURL,
		cancelURL:    cancelURL,
	}
}

// CreateCheckout builds the pending invoice for a basket. Subscription
// and add-on lines get companion PENDING rows created in the same
// transaction and linked from the invoice line.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID int64, req *CheckoutRequest) (*billing.UserInvoice, error) {
	if req.TarifPlanID == 0 && len(req.Bundles) == 0 && len(req.AddOnIDs) == 0 {
		return nil, fmt.Errorf("checkout requires at least one item: %w", xerrors.ErrValidation)
	}

	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	if !u.IsActive() {
		return nil, fmt.Errorf("user account is not active: %w", xerrors.ErrForbidden)
	}

	now := time.Now()
	inv := &billing.UserInvoice{
		InvoiceNumber: ref.InvoiceNumber(),
		UserID:        userID,
		Status:        billing.InvoiceStatusPending,
		Currency:      defaultCurrency,
		InvoicedAt:    now,
		ExpiresAt:     sql.NullTime{Time: now.Add(s.invoiceTTL), Valid: true},
	}

	type pendingSub struct {
		lineIdx int
		sub     *subscription.Subscription
	}
	type pendingAddOn struct {
		lineIdx int
		sub     *subscription.AddOnSubscription
	}
	var pendingSubs []pendingSub
	var pendingAddOns []pendingAddOn
	total := decimal.Zero

	if req.TarifPlanID != 0 {
		plan, err := s.catalogRepo.FindPlanByID(ctx, req.TarifPlanID)
		if err != nil {
			return nil, fmt.Errorf("tarif plan not found: %w", err)
		}
		if !plan.IsActive() {
			return nil, fmt.Errorf("tarif plan %q is not purchasable: %w", plan.Slug, xerrors.ErrValidation)
		}
		if existing, err := s.subRepo.FindLiveByUser(ctx, userID); err == nil && existing != nil {
			return nil, fmt.Errorf("user already has a live subscription: %w", xerrors.ErrConflict)
		}

		inv.Currency = plan.Currency
		inv.Lines = append(inv.Lines, billing.InvoiceLineItem{
			ItemType:    billing.ItemTypeSubscription,
			ItemID:      plan.ID,
			Description: plan.Name,
			UnitPrice:   plan.Price,
			Quantity:    1,
		})
		pendingSubs = append(pendingSubs, pendingSub{
			lineIdx: len(inv.Lines) - 1,
			sub: &subscription.Subscription{
				UserID:      userID,
				TarifPlanID: plan.ID,
				Status:      subscription.StatusPending,
			},
		})
		total = total.Add(plan.Price)
	}

	for _, sel := range req.Bundles {
		bundle, err := s.catalogRepo.FindBundleByID(ctx, sel.BundleID)
		if err != nil {
			return nil, fmt.Errorf("token bundle not found: %w", err)
		}
		if !bundle.IsActive() {
			return nil, fmt.Errorf("token bundle %q is not purchasable: %w", bundle.Slug, xerrors.ErrValidation)
		}

		qty := sel.Quantity
		if qty <= 0 {
			qty = 1
		}
		line := billing.InvoiceLineItem{
			ItemType:    billing.ItemTypeTokenBundle,
			ItemID:      bundle.ID,
			Description: bundle.Name,
			UnitPrice:   bundle.Price,
			Quantity:    qty,
		}
		inv.Lines = append(inv.Lines, line)
		total = total.Add(line.Total())
	}

	for _, addOnID := range req.AddOnIDs {
		addOn, err := s.catalogRepo.FindAddOnByID(ctx, addOnID)
		if err != nil {
			return nil, fmt.Errorf("add-on not found: %w", err)
		}
		if !addOn.IsActive() {
			return nil, fmt.Errorf("add-on %q is not purchasable: %w", addOn.Slug, xerrors.ErrValidation)
		}

		inv.Lines = append(inv.Lines, billing.InvoiceLineItem{
			ItemType:    billing.ItemTypeAddOn,
			ItemID:      addOn.ID,
			Description: addOn.Name,
			UnitPrice:   addOn.Price,
			Quantity:    1,
		})
		pendingAddOns = append(pendingAddOns, pendingAddOn{
			lineIdx: len(inv.Lines) - 1,
			sub: &subscription.AddOnSubscription{
				UserID:  userID,
				AddOnID: addOn.ID,
				Status:  subscription.StatusPending,
			},
		})
		total = total.Add(addOn.Price)
	}

	inv.TotalAmount = total

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ps := range pendingSubs {
		if err := s.subRepo.CreateWithTx(ctx, tx, ps.sub); err != nil {
			return nil, err
		}
		inv.Lines[ps.lineIdx].SubscriptionID = sql.NullInt64{Int64: ps.sub.ID, Valid: true}
	}
	for _, pa := range pendingAddOns {
		if err := s.addOnSubRepo.CreateWithTx(ctx, tx, pa.sub); err != nil {
			return nil, err
		}
		inv.Lines[pa.lineIdx].AddOnSubscriptionID = sql.NullInt64{Int64: pa.sub.ID, Valid: true}
	}

	if err := s.invoiceRepo.CreateWithTx(ctx, tx, inv); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit checkout: %w", err)
	}

	s.logger.Info("checkout created",
		zap.Int64("user_id", userID),
		zap.Int64("invoice_id", inv.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("total", inv.TotalAmount.String()),
		zap.Int("lines", len(inv.Lines)))

	return inv, nil
}

// CreateSession opens a provider checkout session for a pending
// invoice. The session mode is derived from the invoice lines: any
// recurring line makes it a subscription session.
func (s *CheckoutService) CreateSession(ctx context.Context, userID, invoiceID int64, providerName string) (payment.Response, error) {
	adapter, err := s.providers.Get(providerName)
	if err != nil {
		return payment.Response{}, err
	}

	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return payment.Response{}, err
	}
	if inv.UserID != userID {
		return payment.Response{}, xerrors.ErrForbidden
	}
	if !inv.IsPayable(time.Now()) {
		return payment.Response{}, fmt.Errorf("invoice %s is not payable: %w", inv.InvoiceNumber, xerrors.ErrInvalidState)
	}

	lines, err := s.sessionLines(ctx, inv)
	if err != nil {
		return payment.Response{}, err
	}

	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return payment.Response{}, err
	}

	customerRef := ""
	if resp := adapter.CreateOrGetCustomer(ctx, u); resp.Success {
		if refVal, ok := resp.Data["customer_ref"].(string); ok && refVal != "" {
			customerRef = refVal
			if !u.ProviderCustomerRef.Valid || u.ProviderCustomerRef.String != refVal {
				if err := s.userRepo.SetProviderCustomerRef(ctx, u.ID, refVal); err != nil {
					s.logger.Warn("failed to store provider customer ref",
						zap.Int64("user_id", u.ID), zap.Error(err))
				}
			}
		}
	}

	params := payment.CheckoutSessionParams{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Mode:          payment.SessionModeFor(lines),
		Lines:         lines,
		CustomerRef:   customerRef,
		CustomerEmail: u.Email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
	}

	resp := payment.WithRetry(ctx, 3, func() payment.Response {
		return adapter.CreateCheckoutSession(ctx, params)
	})
	if !resp.Success {
		return resp, nil
	}

	sessionID, _ := resp.Data["session_id"].(string)
	meta := map[string]interface{}{
		"provider":            adapter.Name(),
		"checkout_session_id": sessionID,
	}
	if err := s.invoiceRepo.AppendMetadata(ctx, inv.ID, meta); err != nil {
		s.logger.Warn("failed to record checkout session on invoice",
			zap.Int64("invoice_id", inv.ID), zap.Error(err))
	}

	s.logger.Info("checkout session created",
		zap.Int64("invoice_id", inv.ID),
		zap.String("provider", adapter.Name()),
		zap.String("session_id", sessionID),
		zap.String("mode", string(params.Mode)))

	return resp, nil
}

// SessionStatus looks up a provider session, serving recent answers
// from cache so client polling does not hammer the provider.
func (s *CheckoutService) SessionStatus(ctx context.Context, providerName, sessionID string) (payment.Response, error) {
	adapter, err := s.providers.Get(providerName)
	if err != nil {
		return payment.Response{}, err
	}

	if s.statusCache != nil {
		if data, ok, err := s.statusCache.Get(ctx, providerName, sessionID); err != nil {
			s.logger.Warn("session status cache read failed", zap.Error(err))
		} else if ok {
			return payment.OK(data), nil
		}
	}

	resp := adapter.GetSessionStatus(ctx, sessionID)
	if resp.Success && s.statusCache != nil {
		if err := s.statusCache.Set(ctx, providerName, sessionID, resp.Data); err != nil {
			s.logger.Warn("session status cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}

// GetInvoice retrieves one invoice, enforcing ownership
func (s *CheckoutService) GetInvoice(ctx context.Context, userID, invoiceID int64) (*billing.UserInvoice, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, xerrors.ErrForbidden
	}
	return inv, nil
}

// ListInvoices retrieves a user's invoices, newest first
func (s *CheckoutService) ListInvoices(ctx context.Context, userID int64) ([]billing.UserInvoice, error) {
	return s.invoiceRepo.ListByUser(ctx, userID)
}

// ExpireInvoices sweeps pending invoices past their TTL. Called
// periodically; safe to run concurrently.
func (s *CheckoutService) ExpireInvoices(ctx context.Context) (int64, error) {
	n, err := s.invoiceRepo.ExpireOverdue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired overdue invoices", zap.Int64("count", n))
	}
	return n, nil
}

// RefundInvoice issues a provider refund for a paid invoice and records
// it in the invoice metadata. The invoice stays PAID; entitlement
// clawback is a separate administrative action.
func (s *CheckoutService) RefundInvoice(ctx context.Context, invoiceID int64, amount decimal.Decimal, reason string) (payment.Response, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return payment.Response{}, err
	}
	if inv.Status != billing.InvoiceStatusPaid {
		return payment.Response{}, fmt.Errorf("only paid invoices can be refunded: %w", xerrors.ErrInvalidState)
	}
	if !inv.Provider.Valid || !inv.PaymentRef.Valid {
		return payment.Response{}, fmt.Errorf("invoice has no capture reference: %w", xerrors.ErrInvalidState)
	}
	if amount.GreaterThan(inv.TotalAmount) {
		return payment.Response{}, fmt.Errorf("refund exceeds invoice total: %w", xerrors.ErrValidation)
	}

	adapter, err := s.providers.Get(inv.Provider.String)
	if err != nil {
		return payment.Response{}, err
	}

	// A full refund claws back the invoice's token grants before the
	// provider is touched, so an overdrawn balance rejects the refund
	// up front. Partial refunds leave the grants in place.
	invoiceRef := tokensvc.InvoiceRef(inv.ID)
	var clawedBack int64
	if amount.Equal(inv.TotalAmount) {
		granted, err := s.tokenSvc.NetByReference(ctx, inv.UserID, invoiceRef)
		if err != nil {
			return payment.Response{}, err
		}
		if granted > 0 {
			if _, err := s.tokenSvc.Debit(ctx, inv.UserID, granted, token.TypeRefund, invoiceRef, "refund clawback"); err != nil {
				return payment.Response{}, err
			}
			clawedBack = granted
		}
	}

	resp := payment.WithRetry(ctx, 3, func() payment.Response {
		return adapter.Refund(ctx, inv.PaymentRef.String, amount)
	})
	if !resp.Success {
		if clawedBack > 0 {
			if _, err := s.tokenSvc.Credit(ctx, inv.UserID, clawedBack, token.TypeRefund, invoiceRef, "refund clawback reversal"); err != nil {
				s.logger.Error("failed to restore tokens after rejected refund",
					zap.Int64("invoice_id", inv.ID),
					zap.Int64("amount", clawedBack),
					zap.Error(err))
			}
		}
		return resp, nil
	}

	refundID, _ := resp.Data["refund_id"].(string)
	meta := map[string]interface{}{
		"refund_id":     refundID,
		"refund_amount": amount.String(),
		"refund_reason": reason,
		"refunded_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if clawedBack > 0 {
		meta["tokens_clawed_back"] = clawedBack
	}
	if err := s.invoiceRepo.AppendMetadata(ctx, inv.ID, meta); err != nil {
		s.logger.Error("refund issued but not recorded on invoice",
			zap.Int64("invoice_id", inv.ID),
			zap.String("refund_id", refundID),
			zap.Error(err))
	}

	s.logger.Info("invoice refunded",
		zap.Int64("invoice_id", inv.ID),
		zap.String("amount", amount.String()),
		zap.String("refund_id", refundID))

	return resp, nil
}

// sessionLines resolves invoice lines into provider session lines,
// looking up billing periods for recurring items.
func (s *CheckoutService) sessionLines(ctx context.Context, inv *billing.UserInvoice) ([]payment.SessionLine, error) {
	lines := make([]payment.SessionLine, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		sl := payment.SessionLine{
			Description: line.Description,
			UnitAmount:  line.UnitPrice,
			Currency:    inv.Currency,
			Quantity:    int64(line.Quantity),
		}

		switch line.ItemType {
		case billing.ItemTypeSubscription:
			plan, err := s.catalogRepo.FindPlanByID(ctx, line.ItemID)
			if err != nil {
				return nil, fmt.Errorf("plan %d on invoice %s: %w", line.ItemID, inv.InvoiceNumber, err)
			}
			if plan.IsRecurring() {
				sl.Recurring = true
				sl.Interval, sl.IntervalCount = plan.BillingPeriod.Interval()
			}
		case billing.ItemTypeAddOn:
			addOn, err := s.catalogRepo.FindAddOnByID(ctx, line.ItemID)
			if err != nil {
				return nil, fmt.Errorf("add-on %d on invoice %s: %w", line.ItemID, inv.InvoiceNumber, err)
			}
			if addOn.IsRecurring() {
				sl.Recurring = true
				sl.Interval, sl.IntervalCount = addOn.BillingPeriod.Interval()
			}
		}

		lines = append(lines, sl)
	}
	return lines, nil
}
