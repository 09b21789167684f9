// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subpay-service/internal/domain/subscription"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionSelect = `
	SELECT id, user_id, tarif_plan_id, status, started_at, expires_at,
	       trial_end_at, cancelled_at, cancellation_reason, provider_sub_ref,
	       created_at, updated_at
	FROM subscriptions
`

// Create creates a subscription outside of a transaction
func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, tarif_plan_id, status, started_at, expires_at,
			trial_end_at, provider_sub_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		s.UserID, s.TarifPlanID, s.Status, s.StartedAt, s.ExpiresAt,
		s.TrialEndAt, s.ProviderSubRef,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// CreateWithTx creates a subscription within a transaction
func (r *SubscriptionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, tarif_plan_id, status, started_at, expires_at,
			trial_end_at, provider_sub_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		s.UserID, s.TarifPlanID, s.Status, s.StartedAt, s.ExpiresAt,
		s.TrialEndAt, s.ProviderSubRef,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// FindByID retrieves a subscription by ID
func (r *SubscriptionRepository) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, subscriptionSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return s, nil
}

// FindByProviderRef retrieves a subscription by the provider's reference
func (r *SubscriptionRepository) FindByProviderRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, subscriptionSelect+` WHERE provider_sub_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by provider ref: %w", err)
	}
	return s, nil
}

// FindLiveByUser returns the user's active or trialing subscription
func (r *SubscriptionRepository) FindLiveByUser(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	query := subscriptionSelect + `
		WHERE user_id = $1 AND status IN ('active', 'trialing')
		ORDER BY created_at DESC
		LIMIT 1
	`

	s, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find live subscription: %w", err)
	}
	return s, nil
}

// ListByUser retrieves all subscriptions of a user, newest first
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]subscription.Subscription, error) {
	rows, err := r.db.Query(ctx, subscriptionSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}

	return subs, rows.Err()
}

// ActivateWithTx transitions a subscription to active with its billing
// window. The status predicate keeps a row a concurrent transaction
// already activated from being re-activated.
func (r *SubscriptionRepository) ActivateWithTx(ctx context.Context, tx pgx.Tx, id int64, startedAt, expiresAt time.Time, providerRef string) error {
	query := `
		UPDATE subscriptions
		SET status = 'active', started_at = $2, expires_at = $3,
		    provider_sub_ref = COALESCE(NULLIF($4, ''), provider_sub_ref),
		    cancelled_at = NULL, cancellation_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'cancelled')
	`

	tag, err := tx.Exec(ctx, query, id, startedAt, expiresAt, providerRef)
	if err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %d not activatable: %w", id, xerrors.ErrInvalidState)
	}

	return nil
}

// CancelWithTx transitions a subscription to cancelled
func (r *SubscriptionRepository) CancelWithTx(ctx context.Context, tx pgx.Tx, id int64, reason string, at time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = 'cancelled', cancelled_at = $3, cancellation_reason = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, reason, at)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// UpdateStatusWithTx updates the subscription status within a transaction
func (r *SubscriptionRepository) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status subscription.Status) error {
	query := `
		UPDATE subscriptions
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// FindTrialsEndedBefore returns trialing subscriptions whose trial window closed
func (r *SubscriptionRepository) FindTrialsEndedBefore(ctx context.Context, cutoff time.Time) ([]subscription.Subscription, error) {
	query := subscriptionSelect + `
		WHERE status = 'trialing' AND trial_end_at IS NOT NULL AND trial_end_at < $1
		ORDER BY trial_end_at
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find ended trials: %w", err)
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}

	return subs, rows.Err()
}

// FindActiveExpiredBefore returns active subscriptions whose billing window lapsed
func (r *SubscriptionRepository) FindActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]subscription.Subscription, error) {
	query := subscriptionSelect + `
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}

	return subs, rows.Err()
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.TarifPlanID, &s.Status, &s.StartedAt, &s.ExpiresAt,
		&s.TrialEndAt, &s.CancelledAt, &s.CancellationReason, &s.ProviderSubRef,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
