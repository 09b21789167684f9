// internal/service/lifecycle/payment_failed.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/events"
	xerrors "subpay-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// PaymentFailedHandler cancels the invoice a failed payment targeted.
// The companion pending entitlement rows stay PENDING and unreachable;
// the user starts a fresh checkout for another attempt.
type PaymentFailedHandler struct {
	invoiceRepo billing.InvoiceRepository
	db          TxBeginner
	logger      *zap.Logger
}

func NewPaymentFailedHandler(invoiceRepo billing.InvoiceRepository, db TxBeginner, logger *zap.Logger) *PaymentFailedHandler {
	return &PaymentFailedHandler{
		invoiceRepo: invoiceRepo,
		db:          db,
		logger:      logger,
	}
}

func (h *PaymentFailedHandler) EventName() string { return events.PaymentFailed }

func (h *PaymentFailedHandler) Handle(ctx context.Context, e events.Event) events.Result {
	evt, ok := e.(*events.PaymentFailedEvent)
	if !ok {
		return events.Failf(events.KindInternal, "unexpected event payload %T", e)
	}
	if evt.InvoiceID == 0 {
		// Failures without invoice routing carry nothing to act on.
		h.logger.Warn("payment failure without invoice reference",
			zap.String("provider", evt.Provider),
			zap.String("error_code", evt.ErrorCode))
		return events.OK(map[string]interface{}{"skipped": true})
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

	// A failure arriving after the capture, or a repeated failure, is a
	// provider retry; the settled state wins.
	if inv.Status != billing.InvoiceStatusPending {
		h.logger.Info("payment failure for settled invoice ignored",
			zap.Int64("invoice_id", inv.ID),
			zap.String("status", string(inv.Status)))
		return events.OK(map[string]interface{}{
			"invoice_id": inv.ID,
			"idempotent": true,
		})
	}

	if err := h.invoiceRepo.UpdateStatusWithTx(ctx, tx, inv.ID, billing.InvoiceStatusCancelled); err != nil {
		return events.FromError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return events.FromError(fmt.Errorf("failed to commit cancellation: %w", err))
	}

	if err := h.invoiceRepo.AppendMetadata(ctx, inv.ID, map[string]interface{}{
		"failure_code":    evt.ErrorCode,
		"failure_message": evt.ErrorMessage,
	}); err != nil {
		h.logger.Warn("failed to record failure details on invoice",
			zap.Int64("invoice_id", inv.ID), zap.Error(err))
	}

	h.logger.Info("invoice cancelled after payment failure",
		zap.Int64("invoice_id", inv.ID),
		zap.String("provider", evt.Provider),
		zap.String("error_code", evt.ErrorCode))

	return events.OK(map[string]interface{}{"invoice_id": inv.ID})
}
