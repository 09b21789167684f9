// internal/repository/postgres/token_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"subpay-service/internal/domain/token"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepository struct {
	db *pgxpool.Pool
}

func NewTokenRepository(db *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{db: db}
}

// AdjustWithTx applies a signed ledger entry and moves the cached
// balance in the same transaction. The balance row is created lazily
// and locked for the duration, so concurrent adjustments for one user
// serialize here.
func (r *TokenRepository) AdjustWithTx(ctx context.Context, tx pgx.Tx, txn *token.TokenTransaction) error {
	ensureQuery := `
		INSERT INTO user_token_balances (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensureQuery, txn.UserID); err != nil {
		return fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var balance int64
	lockQuery := `SELECT balance FROM user_token_balances WHERE user_id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockQuery, txn.UserID).Scan(&balance); err != nil {
		return fmt.Errorf("failed to lock balance row: %w", err)
	}

	if balance+txn.Amount < 0 {
		return fmt.Errorf("balance %d, requested %d: %w", balance, txn.Amount, xerrors.ErrInsufficientBalance)
	}

	insertQuery := `
		INSERT INTO token_transactions (user_id, amount, transaction_type, reference_id, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := tx.QueryRow(
		ctx, insertQuery,
		txn.UserID, txn.Amount, txn.Type, txn.ReferenceID, txn.Description,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append token transaction: %w", err)
	}

	updateQuery := `
		UPDATE user_token_balances
		SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery, txn.UserID, txn.Amount); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	return nil
}

// GetBalance retrieves the cached balance; users with no ledger
// history read as zero.
func (r *TokenRepository) GetBalance(ctx context.Context, userID int64) (*token.UserTokenBalance, error) {
	query := `
		SELECT user_id, balance, updated_at
		FROM user_token_balances
		WHERE user_id = $1
	`

	var b token.UserTokenBalance
	err := r.db.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Balance, &b.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return &token.UserTokenBalance{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}

	return &b, nil
}

// ListTransactions retrieves the newest ledger entries for a user
func (r *TokenRepository) ListTransactions(ctx context.Context, userID int64, limit int) ([]token.TokenTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, user_id, amount, transaction_type, reference_id, description, created_at
		FROM token_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list token transactions: %w", err)
	}
	defer rows.Close()

	var txns []token.TokenTransaction
	for rows.Next() {
		var t token.TokenTransaction
		err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.ReferenceID, &t.Description, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token transaction: %w", err)
		}
		txns = append(txns, t)
	}

	return txns, rows.Err()
}

// SumTransactions recomputes the balance from the full ledger
func (r *TokenRepository) SumTransactions(ctx context.Context, userID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM token_transactions
		WHERE user_id = $1
	`

	var sum int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum token transactions: %w", err)
	}

	return sum, nil
}

// SumByReference nets the ledger entries tied to one reference
func (r *TokenRepository) SumByReference(ctx context.Context, userID int64, referenceID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM token_transactions
		WHERE user_id = $1 AND reference_id = $2
	`

	var sum int64
	if err := r.db.QueryRow(ctx, query, userID, referenceID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum token transactions by reference: %w", err)
	}

	return sum, nil
}
