// internal/service/lifecycle/payment_captured.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/token"
	"subpay-service/internal/events"
	xerrors "subpay-service/internal/pkg/errors"
	tokensvc "subpay-service/internal/service/token"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// PaymentCapturedHandler settles an invoice after the provider
// confirmed payment. Settlement runs in a single transaction under the
// invoice row lock: PENDING->PAID, entitlement activation, token
// credits and the activation_complete marker commit together or not at
// all. A concurrent delivery blocks on the row lock and then observes
// either the pristine PENDING invoice or the fully settled one, so a
// capture lands exactly once and a failed attempt leaves nothing
// behind for the provider's redelivery to trip over.
type PaymentCapturedHandler struct {
	invoiceRepo  billing.InvoiceRepository
	catalogRepo  catalog.Repository
	subRepo      subscription.Repository
	addOnSubRepo subscription.AddOnRepository
	tokenSvc     *tokensvc.TokenService
	db           TxBeginner
	logger       *zap.Logger
}

func NewPaymentCapturedHandler(
	invoiceRepo billing.InvoiceRepository,
	catalogRepo catalog.Repository,
	subRepo subscription.Repository,
	addOnSubRepo subscription.AddOnRepository,
	tokenSvc *tokensvc.TokenService,
	db TxBeginner,
	logger *zap.Logger,
) *PaymentCapturedHandler {
	return &PaymentCapturedHandler{
		invoiceRepo:  invoiceRepo,
		catalogRepo:  catalogRepo,
		subRepo:      subRepo,
		addOnSubRepo: addOnSubRepo,
		tokenSvc:     tokenSvc,
		db:           db,
		logger:       logger,
	}
}

func (h *PaymentCapturedHandler) EventName() string { return events.PaymentCaptured }

func (h *PaymentCapturedHandler) Handle(ctx context.Context, e events.Event) events.Result {
	evt, ok := e.(*events.PaymentCapturedEvent)
	if !ok {
		return events.Failf(events.KindInternal, "unexpected event payload %T", e)
	}

	tx, err := h.db.BeginTx(ctx)
	if err != nil {
		return events.FromError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	inv, err := h.invoiceRepo.FindByIDForUpdateTx(ctx, tx, evt.InvoiceID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return events.Failf(events.KindNotFound, "invoice %d not found", evt.InvoiceID)
		}
		return events.FromError(err)
	}

	meta := map[string]interface{}{"activation_complete": true}

	switch inv.Status {
	case billing.InvoiceStatusPaid:
		if activationComplete(inv) {
			// Provider retry of a fully settled capture.
			h.logger.Info("duplicate payment capture ignored",
				zap.Int64("invoice_id", evt.InvoiceID),
				zap.String("payment_ref", evt.PaymentRef))
			return events.OK(map[string]interface{}{
				"invoice_id": evt.InvoiceID,
				"idempotent": true,
			})
		}
		// Paid by an earlier release that settled in two steps and
		// stalled after the capture; finish the activation here.
		h.logger.Info("resuming activation for paid invoice",
			zap.Int64("invoice_id", inv.ID))
	case billing.InvoiceStatusPending:
		if !evt.Amount.IsZero() && !evt.Amount.Equal(inv.TotalAmount) {
			h.logger.Warn("captured amount differs from invoice total",
				zap.Int64("invoice_id", inv.ID),
				zap.String("captured", evt.Amount.String()),
				zap.String("invoiced", inv.TotalAmount.String()))
			meta["captured_amount"] = evt.Amount.String()
		}
		if err := h.invoiceRepo.MarkPaidWithTx(ctx, tx, inv.ID, evt.PaymentRef, evt.Provider, time.Now()); err != nil {
			return events.FromError(err)
		}
	default:
		return events.Failf(events.KindInvalidState,
			"invoice %s is %s, cannot capture payment", inv.InvoiceNumber, inv.Status)
	}

	data, err := h.activate(ctx, tx, inv, evt)
	if err != nil {
		// Everything rolls back, the invoice included; the provider's
		// redelivery re-runs the capture from scratch.
		h.logger.Error("payment capture failed",
			zap.Int64("invoice_id", inv.ID),
			zap.Error(err))
		return events.FromError(fmt.Errorf("activation failed for invoice %s: %w", inv.InvoiceNumber, err))
	}

	if err := h.invoiceRepo.AppendMetadataWithTx(ctx, tx, inv.ID, meta); err != nil {
		return events.FromError(fmt.Errorf("failed to record activation completion: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return events.FromError(fmt.Errorf("failed to commit capture: %w", err))
	}

	h.logger.Info("payment captured",
		zap.Int64("invoice_id", inv.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("provider", evt.Provider),
		zap.String("payment_ref", evt.PaymentRef))

	data["invoice_id"] = inv.ID
	return events.OK(data)
}

// activate walks the invoice lines and brings the purchased
// entitlements live: pending subscriptions and add-ons move to ACTIVE
// with their billing window, token bundles and plan grants land on the
// ledger. Line items whose companion row cannot activate are skipped,
// not fatal, so a partial earlier run converges on retry.
func (h *PaymentCapturedHandler) activate(ctx context.Context, tx pgx.Tx, inv *billing.UserInvoice, evt *events.PaymentCapturedEvent) (map[string]interface{}, error) {
	now := time.Now()
	invoiceRef := tokensvc.InvoiceRef(inv.ID)

	// Grants already on the ledger for this invoice mean a previous run
	// committed its credits; never stack a second grant on top.
	already, err := h.tokenSvc.NetByReference(ctx, inv.UserID, invoiceRef)
	if err != nil {
		return nil, err
	}
	creditsDone := already > 0

	var activatedSubs, activatedAddOns []int64
	var tokensCredited int64

	for _, line := range inv.Lines {
		switch line.ItemType {
		case billing.ItemTypeSubscription:
			if !line.SubscriptionID.Valid {
				h.logger.Warn("subscription line without companion row",
					zap.Int64("invoice_id", inv.ID), zap.Int64("line_id", line.ID))
				continue
			}
			sub, err := h.subRepo.FindByID(ctx, line.SubscriptionID.Int64)
			if err != nil {
				return nil, err
			}
			if !sub.CanActivate() {
				h.logger.Info("subscription not activatable, skipping",
					zap.Int64("subscription_id", sub.ID),
					zap.String("status", string(sub.Status)))
				continue
			}

			plan, err := h.catalogRepo.FindPlanByID(ctx, sub.TarifPlanID)
			if err != nil {
				return nil, err
			}

			expiresAt := plan.BillingPeriod.PeriodEnd(now)
			if err := h.subRepo.ActivateWithTx(ctx, tx, sub.ID, now, expiresAt, evt.ProviderSubRef); err != nil {
				return nil, err
			}
			activatedSubs = append(activatedSubs, sub.ID)

			if plan.DefaultTokens > 0 && !creditsDone {
				if _, err := h.tokenSvc.CreditWithTx(ctx, tx, inv.UserID, plan.DefaultTokens,
					token.TypeSubscription, invoiceRef, plan.Name); err != nil {
					return nil, err
				}
				tokensCredited += plan.DefaultTokens
			}

		case billing.ItemTypeAddOn:
			if !line.AddOnSubscriptionID.Valid {
				h.logger.Warn("add-on line without companion row",
					zap.Int64("invoice_id", inv.ID), zap.Int64("line_id", line.ID))
				continue
			}
			addOnSub, err := h.addOnSubRepo.FindByID(ctx, line.AddOnSubscriptionID.Int64)
			if err != nil {
				return nil, err
			}
			if !addOnSub.CanActivate() {
				continue
			}

			addOn, err := h.catalogRepo.FindAddOnByID(ctx, addOnSub.AddOnID)
			if err != nil {
				return nil, err
			}

			expiresAt := addOn.BillingPeriod.PeriodEnd(now)
			if err := h.addOnSubRepo.ActivateWithTx(ctx, tx, addOnSub.ID, now, expiresAt); err != nil {
				return nil, err
			}
			activatedAddOns = append(activatedAddOns, addOnSub.ID)

		case billing.ItemTypeTokenBundle:
			bundle, err := h.catalogRepo.FindBundleByID(ctx, line.ItemID)
			if err != nil {
				return nil, err
			}
			grant := bundle.TokenAmount * int64(line.Quantity)
			if grant <= 0 || creditsDone {
				continue
			}
			if _, err := h.tokenSvc.CreditWithTx(ctx, tx, inv.UserID, grant,
				token.TypePurchase, invoiceRef, bundle.Name); err != nil {
				return nil, err
			}
			tokensCredited += grant
		}
	}

	// Link the parent plan subscription to add-ons bought in the same
	// basket so cascade cancellation can find them.
	if len(activatedSubs) == 1 && len(activatedAddOns) > 0 {
		for _, addOnSubID := range activatedAddOns {
			if err := h.addOnSubRepo.SetParentWithTx(ctx, tx, addOnSubID, activatedSubs[0]); err != nil {
				h.logger.Warn("failed to link add-on to parent subscription",
					zap.Int64("add_on_subscription_id", addOnSubID), zap.Error(err))
			}
		}
	}

	return map[string]interface{}{
		"activated_subscriptions": len(activatedSubs),
		"activated_add_ons":       len(activatedAddOns),
		"tokens_credited":         tokensCredited,
	}, nil
}

func activationComplete(inv *billing.UserInvoice) bool {
	done, ok := inv.Metadata["activation_complete"].(bool)
	return ok && done
}
