// internal/domain/user/repository.go
package user

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	MarkTrialUsedWithTx(ctx context.Context, tx pgx.Tx, id int64) error
	SetProviderCustomerRef(ctx context.Context, id int64, ref string) error
}
