// internal/service/token/token_service_test.go
package token

import (
	"context"
	"testing"

	"subpay-service/internal/domain/token"
	xerrors "subpay-service/internal/pkg/errors"
	"subpay-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTokenService() (*TokenService, *testutil.FakeTokenRepo) {
	repo := testutil.NewFakeTokenRepo()
	return NewTokenService(repo, &testutil.TxBeginner{}, zap.NewNop()), repo
}

func TestCreditAndDebit(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()

	txn, err := svc.Credit(ctx, 7, 500, token.TypePurchase, "invoice:1", "Starter Pack")
	require.NoError(t, err)
	assert.Equal(t, int64(500), txn.Amount)
	assert.Equal(t, "invoice:1", txn.ReferenceID.String)

	txn, err = svc.Debit(ctx, 7, 120, token.TypeUsage, "", "report generation")
	require.NoError(t, err)
	assert.Equal(t, int64(-120), txn.Amount)
	assert.False(t, txn.ReferenceID.Valid)

	balance, err := svc.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(380), balance.Balance)

	history, err := svc.History(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, token.TypeUsage, history[0].Type)

	assert.Len(t, repo.Ledger, 2)
}

func TestDebitRejectsOverdraw(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, 7, 100, token.TypeBonus, "", "welcome")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, 7, 101, token.TypeUsage, "", "")
	assert.ErrorIs(t, err, xerrors.ErrInsufficientBalance)

	balance, err := svc.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Balance)
}

func TestAdjustRejectsNonPositiveAmounts(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, 7, 0, token.TypeBonus, "", "")
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	_, err = svc.Debit(ctx, 7, -5, token.TypeUsage, "", "")
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	assert.Empty(t, repo.Ledger)
}

func TestBalanceForUnknownUserIsZero(t *testing.T) {
	svc, _ := newTokenService()

	balance, err := svc.Balance(context.Background(), 99)
	require.NoError(t, err)
	assert.Zero(t, balance.Balance)
}

func TestVerifyLedger(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, 7, 300, token.TypePurchase, "invoice:1", "")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, 7, 50, token.TypeUsage, "", "")
	require.NoError(t, err)

	consistent, cached, sum, err := svc.VerifyLedger(ctx, 7)
	require.NoError(t, err)
	assert.True(t, consistent)
	assert.Equal(t, int64(250), cached)
	assert.Equal(t, int64(250), sum)

	// Nudge the projection out of sync with the ledger.
	repo.Balances[7] = 999

	consistent, cached, sum, err = svc.VerifyLedger(ctx, 7)
	require.NoError(t, err)
	assert.False(t, consistent)
	assert.Equal(t, int64(999), cached)
	assert.Equal(t, int64(250), sum)
}
