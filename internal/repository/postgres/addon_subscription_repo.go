// internal/repository/postgres/addon_subscription_repo.go
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

type AddOnSubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewAddOnSubscriptionRepository(db *pgxpool.Pool) *AddOnSubscriptionRepository {
	return &AddOnSubscriptionRepository{db: db}
}

const addOnSubSelect = `
	SELECT id, user_id, add_on_id, parent_subscription_id, status,
	       started_at, expires_at, cancelled_at, created_at, updated_at
	FROM add_on_subscriptions
`

// CreateWithTx creates an add-on subscription within a transaction
func (r *AddOnSubscriptionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, a *subscription.AddOnSubscription) error {
	query := `
		INSERT INTO add_on_subscriptions (
			user_id, add_on_id, parent_subscription_id, status, started_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		a.UserID, a.AddOnID, a.ParentSubscriptionID, a.Status, a.StartedAt, a.ExpiresAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create add-on subscription: %w", err)
	}

	return nil
}

// FindByID retrieves an add-on subscription by ID
func (r *AddOnSubscriptionRepository) FindByID(ctx context.Context, id int64) (*subscription.AddOnSubscription, error) {
	a, err := scanAddOnSub(r.db.QueryRow(ctx, addOnSubSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find add-on subscription: %w", err)
	}
	return a, nil
}

// ListByUser retrieves all add-on subscriptions of a user, newest first
func (r *AddOnSubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]subscription.AddOnSubscription, error) {
	rows, err := r.db.Query(ctx, addOnSubSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list add-on subscriptions: %w", err)
	}
	defer rows.Close()

	return collectAddOnSubs(rows)
}

// FindActiveByParent returns active add-ons under a parent subscription
func (r *AddOnSubscriptionRepository) FindActiveByParent(ctx context.Context, parentID int64) ([]subscription.AddOnSubscription, error) {
	query := addOnSubSelect + ` WHERE parent_subscription_id = $1 AND status = 'active'`

	rows, err := r.db.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find add-ons by parent: %w", err)
	}
	defer rows.Close()

	return collectAddOnSubs(rows)
}

// ActivateWithTx transitions an add-on subscription to active
func (r *AddOnSubscriptionRepository) ActivateWithTx(ctx context.Context, tx pgx.Tx, id int64, startedAt, expiresAt time.Time) error {
	query := `
		UPDATE add_on_subscriptions
		SET status = 'active', started_at = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := tx.Exec(ctx, query, id, startedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to activate add-on subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add-on subscription %d not activatable: %w", id, xerrors.ErrInvalidState)
	}

	return nil
}

// SetParentWithTx links an add-on to its parent plan subscription
func (r *AddOnSubscriptionRepository) SetParentWithTx(ctx context.Context, tx pgx.Tx, id, parentID int64) error {
	query := `
		UPDATE add_on_subscriptions
		SET parent_subscription_id = $2, updated_at = NOW()
		WHERE id = $1 AND parent_subscription_id IS NULL
	`

	if _, err := tx.Exec(ctx, query, id, parentID); err != nil {
		return fmt.Errorf("failed to link add-on to parent: %w", err)
	}

	return nil
}

// CancelWithTx transitions an add-on subscription to cancelled
func (r *AddOnSubscriptionRepository) CancelWithTx(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	query := `
		UPDATE add_on_subscriptions
		SET status = 'cancelled', cancelled_at = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to cancel add-on subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// UpdateStatusWithTx updates the add-on subscription status
func (r *AddOnSubscriptionRepository) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status subscription.Status) error {
	query := `
		UPDATE add_on_subscriptions
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update add-on subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func collectAddOnSubs(rows pgx.Rows) ([]subscription.AddOnSubscription, error) {
	var subs []subscription.AddOnSubscription
	for rows.Next() {
		a, err := scanAddOnSub(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan add-on subscription: %w", err)
		}
		subs = append(subs, *a)
	}
	return subs, rows.Err()
}

func scanAddOnSub(row pgx.Row) (*subscription.AddOnSubscription, error) {
	var a subscription.AddOnSubscription
	err := row.Scan(
		&a.ID, &a.UserID, &a.AddOnID, &a.ParentSubscriptionID, &a.Status,
		&a.StartedAt, &a.ExpiresAt, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
