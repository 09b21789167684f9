// internal/testutil/tx.go
package testutil

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Snapshotter captures a fake store's current state and returns a
// function that restores it. TxBeginner uses it to give stub
// transactions rollback semantics.
type Snapshotter interface {
	Snapshot() func()
}

// Tx is a stub pgx.Tx for service tests that exercise transactional
// flows against fake repositories. Fake mutations apply immediately;
// Rollback undoes them by restoring the snapshots its TxBeginner took
// of every tracked store, and Commit discards those snapshots.
type Tx struct {
	Committed  bool
	RolledBack bool
	CommitErr  error

	restores []func()
}

var _ pgx.Tx = (*Tx)(nil)

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *Tx) Commit(ctx context.Context) error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.Committed = true
	t.restores = nil
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if !t.Committed {
		t.RolledBack = true
		for i := len(t.restores) - 1; i >= 0; i-- {
			t.restores[i]()
		}
		t.restores = nil
	}
	return nil
}

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *Tx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *Tx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

func (t *Tx) Conn() *pgx.Conn { return nil }

// TxBeginner hands out fresh stub transactions and keeps them for
// later inspection. Stores registered through Track are snapshotted on
// BeginTx and restored when that transaction rolls back.
type TxBeginner struct {
	Started []*Tx
	Err     error

	stores []Snapshotter
}

// Track registers fake stores whose state should roll back with the
// transactions this beginner hands out.
func (b *TxBeginner) Track(stores ...Snapshotter) {
	b.stores = append(b.stores, stores...)
}

func (b *TxBeginner) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	tx := &Tx{}
	for _, s := range b.stores {
		tx.restores = append(tx.restores, s.Snapshot())
	}
	b.Started = append(b.Started, tx)
	return tx, nil
}
