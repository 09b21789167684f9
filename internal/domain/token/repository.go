// internal/domain/token/repository.go
package token

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	// AdjustWithTx locks the balance row, applies the signed amount and
	// appends the ledger entry in one unit. Returns ErrInsufficientBalance
	// when the adjustment would drive the balance negative.
	AdjustWithTx(ctx context.Context, tx pgx.Tx, txn *TokenTransaction) error
	GetBalance(ctx context.Context, userID int64) (*UserTokenBalance, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]TokenTransaction, error)
	// SumTransactions recomputes the balance from the ledger; used to
	// verify the projection invariant.
	SumTransactions(ctx context.Context, userID int64) (int64, error)
	// SumByReference nets the ledger entries recorded against one
	// reference, e.g. the grants and clawbacks of a single invoice.
	SumByReference(ctx context.Context, userID int64, referenceID string) (int64, error)
}
