// internal/service/lifecycle/subscription_cancelled.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/events"
	xerrors "subpay-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// SubscriptionCancelledHandler applies a cancellation that originated
// at the provider (for example the user cancelled in the Stripe
// billing portal). Cancellation cascades to the plan's active add-ons.
type SubscriptionCancelledHandler struct {
	subRepo      subscription.Repository
	addOnSubRepo subscription.AddOnRepository
	db           TxBeginner
	logger       *zap.Logger
}

func NewSubscriptionCancelledHandler(
	subRepo subscription.Repository,
	addOnSubRepo subscription.AddOnRepository,
	db TxBeginner,
	logger *zap.Logger,
) *SubscriptionCancelledHandler {
	return &SubscriptionCancelledHandler{
		subRepo:      subRepo,
		addOnSubRepo: addOnSubRepo,
		db:           db,
		logger:       logger,
	}
}

func (h *SubscriptionCancelledHandler) EventName() string { return events.SubscriptionCancelled }

func (h *SubscriptionCancelledHandler) Handle(ctx context.Context, e events.Event) events.Result {
	evt, ok := e.(*events.SubscriptionCancelledEvent)
	if !ok {
		return events.Failf(events.KindInternal, "unexpected event payload %T", e)
	}

	sub, err := h.resolve(ctx, evt)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			// Remote subscriptions we never tracked (or already purged)
			// are not an error worth a provider retry.
			h.logger.Warn("cancellation for unknown subscription",
				zap.Int64("subscription_id", evt.SubscriptionID),
				zap.String("provider_sub_ref", evt.ProviderSubRef))
			return events.OK(map[string]interface{}{"skipped": true})
		}
		return events.FromError(err)
	}

	if sub.Status == subscription.StatusCancelled || sub.Status == subscription.StatusExpired {
		return events.OK(map[string]interface{}{
			"subscription_id": sub.ID,
			"idempotent":      true,
		})
	}

	cascaded, err := h.cancel(ctx, sub, evt.Reason)
	if err != nil {
		return events.FromError(err)
	}

	h.logger.Info("subscription cancelled",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", sub.UserID),
		zap.String("reason", evt.Reason),
		zap.Int("cascaded_add_ons", cascaded))

	return events.OK(map[string]interface{}{
		"subscription_id":  sub.ID,
		"cascaded_add_ons": cascaded,
	})
}

func (h *SubscriptionCancelledHandler) resolve(ctx context.Context, evt *events.SubscriptionCancelledEvent) (*subscription.Subscription, error) {
	if evt.SubscriptionID != 0 {
		return h.subRepo.FindByID(ctx, evt.SubscriptionID)
	}
	if evt.ProviderSubRef != "" {
		return h.subRepo.FindByProviderRef(ctx, evt.ProviderSubRef)
	}
	return nil, fmt.Errorf("cancellation event carries no subscription reference: %w", xerrors.ErrValidation)
}

func (h *SubscriptionCancelledHandler) cancel(ctx context.Context, sub *subscription.Subscription, reason string) (int, error) {
	tx, err := h.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if err := h.subRepo.CancelWithTx(ctx, tx, sub.ID, reason, now); err != nil {
		return 0, err
	}

	addOns, err := h.addOnSubRepo.FindActiveByParent(ctx, sub.ID)
	if err != nil {
		return 0, err
	}
	for _, a := range addOns {
		if err := h.addOnSubRepo.CancelWithTx(ctx, tx, a.ID, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return len(addOns), nil
}
