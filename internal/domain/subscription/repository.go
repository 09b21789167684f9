// internal/domain/subscription/repository.go
package subscription

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	CreateWithTx(ctx context.Context, tx pgx.Tx, s *Subscription) error
	FindByID(ctx context.Context, id int64) (*Subscription, error)
	FindByProviderRef(ctx context.Context, ref string) (*Subscription, error)
	// FindLiveByUser returns the user's ACTIVE or TRIALING subscription.
	FindLiveByUser(ctx context.Context, userID int64) (*Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]Subscription, error)
	ActivateWithTx(ctx context.Context, tx pgx.Tx, id int64, startedAt, expiresAt time.Time, providerRef string) error
	CancelWithTx(ctx context.Context, tx pgx.Tx, id int64, reason string, at time.Time) error
	UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status Status) error
	FindTrialsEndedBefore(ctx context.Context, cutoff time.Time) ([]Subscription, error)
	FindActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]Subscription, error)
}

type AddOnRepository interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, a *AddOnSubscription) error
	FindByID(ctx context.Context, id int64) (*AddOnSubscription, error)
	ListByUser(ctx context.Context, userID int64) ([]AddOnSubscription, error)
	// FindActiveByParent returns ACTIVE add-on subscriptions under a
	// parent plan subscription, for cascade cancellation.
	FindActiveByParent(ctx context.Context, parentID int64) ([]AddOnSubscription, error)
	ActivateWithTx(ctx context.Context, tx pgx.Tx, id int64, startedAt, expiresAt time.Time) error
	// SetParentWithTx links an add-on to its parent plan subscription;
	// a no-op when the link is already set.
	SetParentWithTx(ctx context.Context, tx pgx.Tx, id, parentID int64) error
	CancelWithTx(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error
	UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status Status) error
}
