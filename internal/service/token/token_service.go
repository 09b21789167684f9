// internal/service/token/token_service.go
package token

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"subpay-service/internal/domain/token"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// TokenService owns the append-only token ledger. Balances are only
// ever moved through ledger entries; the cached balance row is a
// projection maintained by the repository.
type TokenService struct {
	tokenRepo token.Repository
	db        TxBeginner
	logger    *zap.Logger
}

func NewTokenService(tokenRepo token.Repository, db TxBeginner, logger *zap.Logger) *TokenService {
	return &TokenService{
		tokenRepo: tokenRepo,
		db:        db,
		logger:    logger,
	}
}

// Credit adds tokens to a user's balance
func (s *TokenService) Credit(ctx context.Context, userID, amount int64, txType token.TransactionType, referenceID, description string) (*token.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %w", xerrors.ErrValidation)
	}
	return s.adjust(ctx, userID, amount, txType, referenceID, description)
}

// Debit removes tokens from a user's balance. Fails with
// ErrInsufficientBalance rather than letting the balance go negative.
func (s *TokenService) Debit(ctx context.Context, userID, amount int64, txType token.TransactionType, referenceID, description string) (*token.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive: %w", xerrors.ErrValidation)
	}
	return s.adjust(ctx, userID, -amount, txType, referenceID, description)
}

// CreditWithTx appends a credit inside a caller-owned transaction,
// used by payment capture to tie token grants to invoice activation.
func (s *TokenService) CreditWithTx(ctx context.Context, tx pgx.Tx, userID, amount int64, txType token.TransactionType, referenceID, description string) (*token.TokenTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive: %w", xerrors.ErrValidation)
	}

	txn := newTransaction(userID, amount, txType, referenceID, description)
	if err := s.tokenRepo.AdjustWithTx(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *TokenService) adjust(ctx context.Context, userID, amount int64, txType token.TransactionType, referenceID, description string) (*token.TokenTransaction, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txn := newTransaction(userID, amount, txType, referenceID, description)
	if err := s.tokenRepo.AdjustWithTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit token adjustment: %w", err)
	}

	s.logger.Info("token balance adjusted",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("type", string(txType)),
		zap.String("reference", referenceID))

	return txn, nil
}

// NetByReference nets the ledger entries recorded against a reference,
// e.g. what an invoice granted minus what was already clawed back.
func (s *TokenService) NetByReference(ctx context.Context, userID int64, referenceID string) (int64, error) {
	return s.tokenRepo.SumByReference(ctx, userID, referenceID)
}

// Balance returns the user's current token balance
func (s *TokenService) Balance(ctx context.Context, userID int64) (*token.UserTokenBalance, error) {
	return s.tokenRepo.GetBalance(ctx, userID)
}

// History returns the user's newest ledger entries
func (s *TokenService) History(ctx context.Context, userID int64, limit int) ([]token.TokenTransaction, error) {
	return s.tokenRepo.ListTransactions(ctx, userID, limit)
}

// VerifyLedger checks that the cached balance equals the ledger sum.
func (s *TokenService) VerifyLedger(ctx context.Context, userID int64) (bool, int64, int64, error) {
	balance, err := s.tokenRepo.GetBalance(ctx, userID)
	if err != nil {
		return false, 0, 0, err
	}

	sum, err := s.tokenRepo.SumTransactions(ctx, userID)
	if err != nil {
		return false, 0, 0, err
	}

	if balance.Balance != sum {
		s.logger.Error("token ledger drift detected",
			zap.Int64("user_id", userID),
			zap.Int64("cached_balance", balance.Balance),
			zap.Int64("ledger_sum", sum))
	}

	return balance.Balance == sum, balance.Balance, sum, nil
}

// InvoiceRef renders the ledger reference for an invoice.
func InvoiceRef(invoiceID int64) string {
	return "invoice:" + strconv.FormatInt(invoiceID, 10)
}

func newTransaction(userID, amount int64, txType token.TransactionType, referenceID, description string) *token.TokenTransaction {
	txn := &token.TokenTransaction{
		UserID: userID,
		Amount: amount,
		Type:   txType,
	}
	if referenceID != "" {
		txn.ReferenceID = sql.NullString{String: referenceID, Valid: true}
	}
	if description != "" {
		txn.Description = sql.NullString{String: description, Valid: true}
	}
	return txn
}
