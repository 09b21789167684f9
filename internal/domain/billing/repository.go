// internal/domain/billing/repository.go
package billing

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type InvoiceRepository interface {
	// CreateWithTx inserts the invoice and all of its line items.
	CreateWithTx(ctx context.Context, tx pgx.Tx, inv *UserInvoice) error
	FindByID(ctx context.Context, id int64) (*UserInvoice, error)
	// FindByIDForUpdateTx loads the invoice under a row lock so that the
	// read-branch-write sequence of payment capture serializes per invoice.
	FindByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*UserInvoice, error)
	FindByNumber(ctx context.Context, number string) (*UserInvoice, error)
	ListByUser(ctx context.Context, userID int64) ([]UserInvoice, error)
	MarkPaidWithTx(ctx context.Context, tx pgx.Tx, id int64, paymentRef, provider string, paidAt time.Time) error
	UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status InvoiceStatus) error
	AppendMetadata(ctx context.Context, id int64, patch map[string]interface{}) error
	// AppendMetadataWithTx merges a patch inside a caller-held transaction,
	// so markers like activation_complete commit atomically with the state
	// they describe.
	AppendMetadataWithTx(ctx context.Context, tx pgx.Tx, id int64, patch map[string]interface{}) error
	// ExpireOverdue transitions pending invoices past their expiry.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}
