// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subpay-service/internal/domain/billing"
	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/domain/subscription"
	"subpay-service/internal/domain/user"
	"subpay-service/internal/payment"
	xerrors "subpay-service/internal/pkg/errors"
	"subpay-service/internal/pkg/ref"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// SubscriptionService drives the subscription lifecycle outside of
// payment capture: free trials, user-initiated cancellation and the
// periodic trial/expiry sweeps. Activation itself happens only through
// payment capture.
type SubscriptionService struct {
	subRepo      subscription.Repository
	addOnSubRepo subscription.AddOnRepository
	catalogRepo  catalog.Repository
	userRepo     user.Repository
	invoiceRepo  billing.InvoiceRepository
	providers    *payment.Registry
	db           TxBeginner
	logger       *zap.Logger

	// remoteProvider names the adapter that bills recurring
	// subscriptions; provider_sub_refs belong to it.
	remoteProvider    string
	renewalInvoiceTTL time.Duration
}

func NewSubscriptionService(
	subRepo subscription.Repository,
	addOnSubRepo subscription.AddOnRepository,
	catalogRepo catalog.Repository,
	userRepo user.Repository,
	invoiceRepo billing.InvoiceRepository,
	providers *payment.Registry,
	db TxBeginner,
	logger *zap.Logger,
	remoteProvider string,
	renewalInvoiceTTL time.Duration,
) *SubscriptionService {
	if renewalInvoiceTTL <= 0 {
		renewalInvoiceTTL = 72 * time.Hour
	}
	if remoteProvider == "" {
		remoteProvider = "stripe"
	}
	return &SubscriptionService{
		subRepo:           subRepo,
		addOnSubRepo:      addOnSubRepo,
		catalogRepo:       catalogRepo,
		userRepo:          userRepo,
		invoiceRepo:       invoiceRepo,
		providers:         providers,
		db:                db,
		logger:            logger,
		remoteProvider:    remoteProvider,
		renewalInvoiceTTL: renewalInvoiceTTL,
	}
}

// StartTrial opens a free trial on a plan. One trial per user, ever;
// no tokens are granted during trials and no invoice is created.
func (s *SubscriptionService) StartTrial(ctx context.Context, userID, planID int64) (*subscription.Subscription, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	if !u.IsActive() {
		return nil, fmt.Errorf("user account is not active: %w", xerrors.ErrForbidden)
	}
	if u.HasUsedTrial {
		return nil, fmt.Errorf("trial already used: %w", xerrors.ErrConflict)
	}

	plan, err := s.catalogRepo.FindPlanByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("tarif plan not found: %w", err)
	}
	if !plan.IsActive() {
		return nil, fmt.Errorf("tarif plan %q is not available: %w", plan.Slug, xerrors.ErrValidation)
	}
	if plan.TrialDays <= 0 {
		return nil, fmt.Errorf("plan %q has no trial: %w", plan.Slug, xerrors.ErrValidation)
	}

	if existing, err := s.subRepo.FindLiveByUser(ctx, userID); err == nil && existing != nil {
		return nil, fmt.Errorf("user already has a live subscription: %w", xerrors.ErrConflict)
	} else if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	trialEnd := now.AddDate(0, 0, plan.TrialDays)
	sub := &subscription.Subscription{
		UserID:      userID,
		TarifPlanID: plan.ID,
		Status:      subscription.StatusTrialing,
		StartedAt:   sql.NullTime{Time: now, Valid: true},
		ExpiresAt:   sql.NullTime{Time: trialEnd, Valid: true},
		TrialEndAt:  sql.NullTime{Time: trialEnd, Valid: true},
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.subRepo.CreateWithTx(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := s.userRepo.MarkTrialUsedWithTx(ctx, tx, userID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit trial: %w", err)
	}

	s.logger.Info("trial started",
		zap.Int64("user_id", userID),
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("plan_id", plan.ID),
		zap.Time("trial_end", trialEnd))

	return sub, nil
}

// Cancel ends a subscription at the user's request. A trialing or
// active subscription moves to CANCELLED immediately; active add-ons
// under it cascade. When the subscription is billed remotely the
// provider side is cancelled as well.
func (s *SubscriptionService) Cancel(ctx context.Context, userID, subID int64, reason string) error {
	sub, err := s.subRepo.FindByID(ctx, subID)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return xerrors.ErrForbidden
	}
	if sub.Status == subscription.StatusCancelled {
		return nil
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusTrialing {
		return fmt.Errorf("subscription is %s: %w", sub.Status, xerrors.ErrInvalidState)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if err := s.subRepo.CancelWithTx(ctx, tx, sub.ID, reason, now); err != nil {
		return err
	}

	addOns, err := s.addOnSubRepo.FindActiveByParent(ctx, sub.ID)
	if err != nil {
		return err
	}
	for _, a := range addOns {
		if err := s.addOnSubRepo.CancelWithTx(ctx, tx, a.ID, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	if sub.ProviderSubRef.Valid && sub.ProviderSubRef.String != "" {
		s.cancelRemote(ctx, sub)
	}

	s.logger.Info("subscription cancelled by user",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.String("reason", reason),
		zap.Int("cascaded_add_ons", len(addOns)))

	return nil
}

// cancelRemote tears down the provider-side subscription. Local state
// is already settled; a remote failure is logged and left for support.
func (s *SubscriptionService) cancelRemote(ctx context.Context, sub *subscription.Subscription) {
	adapter, err := s.providers.Get(s.remoteProvider)
	if err != nil {
		s.logger.Warn("no provider adapter for remote cancellation",
			zap.String("provider", s.remoteProvider))
		return
	}

	resp := payment.WithRetry(ctx, 3, func() payment.Response {
		return adapter.CancelRemoteSubscription(ctx, sub.ProviderSubRef.String)
	})
	if !resp.Success {
		s.logger.Error("remote subscription cancellation failed",
			zap.Int64("subscription_id", sub.ID),
			zap.String("provider_sub_ref", sub.ProviderSubRef.String),
			zap.String("error_code", resp.ErrCode),
			zap.String("error", resp.Err))
	}
}

// Activate brings a subscription live outside the payment-capture
// path, as operator remediation when a capture's activation step could
// not finish. Trials never activate this way; a trial converts only
// through its paid conversion invoice. No tokens are granted here.
func (s *SubscriptionService) Activate(ctx context.Context, subID int64) (*subscription.Subscription, error) {
	sub, err := s.subRepo.FindByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status == subscription.StatusActive {
		return sub, nil
	}
	if sub.Status == subscription.StatusTrialing {
		return nil, fmt.Errorf("trialing subscription activates only through payment capture: %w", xerrors.ErrInvalidState)
	}
	if !sub.CanActivate() {
		return nil, fmt.Errorf("subscription is %s: %w", sub.Status, xerrors.ErrInvalidState)
	}

	plan, err := s.catalogRepo.FindPlanByID(ctx, sub.TarifPlanID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	expiresAt := plan.BillingPeriod.PeriodEnd(now)
	if err := s.subRepo.ActivateWithTx(ctx, tx, sub.ID, now, expiresAt, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit activation: %w", err)
	}

	s.logger.Info("subscription activated by operator",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", sub.UserID),
		zap.Time("expires_at", expiresAt))

	return s.subRepo.FindByID(ctx, sub.ID)
}

// Get retrieves one subscription, enforcing ownership
func (s *SubscriptionService) Get(ctx context.Context, userID, subID int64) (*subscription.Subscription, error) {
	sub, err := s.subRepo.FindByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, xerrors.ErrForbidden
	}
	return sub, nil
}

// GetActive returns the user's live subscription; ErrNotFound when
// nothing is trialing or active.
func (s *SubscriptionService) GetActive(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	return s.subRepo.FindLiveByUser(ctx, userID)
}

// List retrieves all of a user's subscriptions and add-ons
func (s *SubscriptionService) List(ctx context.Context, userID int64) ([]subscription.Subscription, []subscription.AddOnSubscription, error) {
	subs, err := s.subRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	addOns, err := s.addOnSubRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return subs, addOns, nil
}

// ExpireTrials sweeps trials past their end: the trial row moves to
// CANCELLED and a pending conversion invoice for the same row is
// created, so paying it re-activates the very same subscription.
func (s *SubscriptionService) ExpireTrials(ctx context.Context) (int, error) {
	trials, err := s.subRepo.FindTrialsEndedBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range trials {
		sub := &trials[i]
		if err := s.endTrial(ctx, sub); err != nil {
			s.logger.Error("failed to end trial",
				zap.Int64("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		processed++
	}

	if processed > 0 {
		s.logger.Info("ended expired trials", zap.Int("count", processed))
	}
	return processed, nil
}

func (s *SubscriptionService) endTrial(ctx context.Context, sub *subscription.Subscription) error {
	plan, err := s.catalogRepo.FindPlanByID(ctx, sub.TarifPlanID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if err := s.subRepo.CancelWithTx(ctx, tx, sub.ID, "trial_ended", now); err != nil {
		return err
	}

	inv := &billing.UserInvoice{
		InvoiceNumber: ref.InvoiceNumber(),
		UserID:        sub.UserID,
		Status:        billing.InvoiceStatusPending,
		TotalAmount:   plan.Price,
		Currency:      plan.Currency,
		InvoicedAt:    now,
		ExpiresAt:     sql.NullTime{Time: now.Add(s.renewalInvoiceTTL), Valid: true},
		Metadata:      map[string]interface{}{"origin": "trial_conversion"},
		Lines: []billing.InvoiceLineItem{{
			ItemType:       billing.ItemTypeSubscription,
			ItemID:         plan.ID,
			Description:    plan.Name,
			UnitPrice:      plan.Price,
			Quantity:       1,
			SubscriptionID: sql.NullInt64{Int64: sub.ID, Valid: true},
		}},
	}
	if err := s.invoiceRepo.CreateWithTx(ctx, tx, inv); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trial end: %w", err)
	}

	s.logger.Info("trial ended, conversion invoice issued",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", sub.UserID),
		zap.Int64("invoice_id", inv.ID))

	return nil
}

// ExpireSubscriptions sweeps active subscriptions whose paid window
// lapsed without renewal.
func (s *SubscriptionService) ExpireSubscriptions(ctx context.Context) (int, error) {
	expired, err := s.subRepo.FindActiveExpiredBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range expired {
		sub := &expired[i]

		tx, err := s.db.BeginTx(ctx)
		if err != nil {
			return processed, fmt.Errorf("failed to begin transaction: %w", err)
		}

		err = s.subRepo.UpdateStatusWithTx(ctx, tx, sub.ID, subscription.StatusExpired)
		if err == nil {
			err = tx.Commit(ctx)
		}
		if err != nil {
			tx.Rollback(ctx)
			s.logger.Error("failed to expire subscription",
				zap.Int64("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		processed++
	}

	if processed > 0 {
		s.logger.Info("expired lapsed subscriptions", zap.Int("count", processed))
	}
	return processed, nil
}
