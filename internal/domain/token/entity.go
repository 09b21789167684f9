// internal/domain/token/entity.go
package token

import (
	"database/sql"
	"time"
)

type TransactionType string

const (
	TypePurchase     TransactionType = "purchase"
	TypeUsage        TransactionType = "usage"
	TypeRefund       TransactionType = "refund"
	TypeBonus        TransactionType = "bonus"
	TypeSubscription TransactionType = "subscription"
)

// UserTokenBalance is a cached projection of the transaction log.
// It is never set directly; every change goes through a TokenTransaction.
type UserTokenBalance struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenTransaction is one append-only ledger entry. Amount is signed:
// credits positive, debits negative.
type TokenTransaction struct {
	ID          int64           `json:"id" db:"id"`
	UserID      int64           `json:"user_id" db:"user_id"`
	Amount      int64           `json:"amount" db:"amount"`
	Type        TransactionType `json:"transaction_type" db:"transaction_type"`
	ReferenceID sql.NullString  `json:"reference_id,omitempty" db:"reference_id"`
	Description sql.NullString  `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
