// internal/repository/postgres/invoice_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"subpay-service/internal/domain/billing"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type InvoiceRepository struct {
	db *pgxpool.Pool
}

func NewInvoiceRepository(db *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateWithTx creates an invoice together with its line items
func (r *InvoiceRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, inv *billing.UserInvoice) error {
	query := `
		INSERT INTO user_invoices (
			invoice_number, user_id, status, total_amount, currency,
			provider, invoiced_at, expires_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	var metadataJSON []byte
	var err error
	if inv.Metadata != nil {
		metadataJSON, err = json.Marshal(inv.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	err = tx.QueryRow(
		ctx, query,
		inv.InvoiceNumber, inv.UserID, inv.Status, inv.TotalAmount.String(), inv.Currency,
		inv.Provider, inv.InvoicedAt, inv.ExpiresAt, metadataJSON,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	lineQuery := `
		INSERT INTO invoice_line_items (
			invoice_id, item_type, item_id, description, unit_price,
			quantity, subscription_id, add_on_subscription_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	for i := range inv.Lines {
		line := &inv.Lines[i]
		line.InvoiceID = inv.ID

		err = tx.QueryRow(
			ctx, lineQuery,
			line.InvoiceID, line.ItemType, line.ItemID, line.Description,
			line.UnitPrice.String(), line.Quantity, line.SubscriptionID, line.AddOnSubscriptionID,
		).Scan(&line.ID)

		if err != nil {
			return fmt.Errorf("failed to create invoice line: %w", err)
		}
	}

	return nil
}

// FindByID retrieves an invoice with its line items
func (r *InvoiceRepository) FindByID(ctx context.Context, id int64) (*billing.UserInvoice, error) {
	query := invoiceSelect + ` WHERE id = $1`

	inv, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}

	if inv.Lines, err = r.loadLines(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

// FindByIDForUpdateTx loads the invoice under a row lock. Payment
// capture serializes per invoice on this lock.
func (r *InvoiceRepository) FindByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*billing.UserInvoice, error) {
	query := invoiceSelect + ` WHERE id = $1 FOR UPDATE`

	inv, err := scanInvoice(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}

	if inv.Lines, err = r.loadLinesTx(ctx, tx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

// FindByNumber retrieves an invoice by its human-readable number
func (r *InvoiceRepository) FindByNumber(ctx context.Context, number string) (*billing.UserInvoice, error) {
	query := invoiceSelect + ` WHERE invoice_number = $1`

	inv, err := scanInvoice(r.db.QueryRow(ctx, query, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice by number: %w", err)
	}

	if inv.Lines, err = r.loadLines(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListByUser retrieves a user's invoices, newest first, without lines
func (r *InvoiceRepository) ListByUser(ctx context.Context, userID int64) ([]billing.UserInvoice, error) {
	query := invoiceSelect + ` WHERE user_id = $1 ORDER BY invoiced_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.UserInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}

	return invoices, rows.Err()
}

// MarkPaidWithTx transitions a pending invoice to paid
func (r *InvoiceRepository) MarkPaidWithTx(ctx context.Context, tx pgx.Tx, id int64, paymentRef, provider string, paidAt time.Time) error {
	query := `
		UPDATE user_invoices
		SET status = 'paid', payment_ref = $2, provider = $3, paid_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := tx.Exec(ctx, query, id, paymentRef, provider, paidAt)
	if err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrInvalidState
	}

	return nil
}

// UpdateStatusWithTx updates the invoice status within a transaction
func (r *InvoiceRepository) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status billing.InvoiceStatus) error {
	query := `
		UPDATE user_invoices
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// AppendMetadata merges a patch into the invoice metadata
func (r *InvoiceRepository) AppendMetadata(ctx context.Context, id int64, patch map[string]interface{}) error {
	query := `
		UPDATE user_invoices
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, id, patchJSON)
	if err != nil {
		return fmt.Errorf("failed to append invoice metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// AppendMetadataWithTx merges a patch into the invoice metadata within a transaction
func (r *InvoiceRepository) AppendMetadataWithTx(ctx context.Context, tx pgx.Tx, id int64, patch map[string]interface{}) error {
	query := `
		UPDATE user_invoices
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	tag, err := tx.Exec(ctx, query, id, patchJSON)
	if err != nil {
		return fmt.Errorf("failed to append invoice metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// ExpireOverdue transitions pending invoices past their expiry
func (r *InvoiceRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE user_invoices
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
	`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invoices: %w", err)
	}

	return tag.RowsAffected(), nil
}

const invoiceSelect = `
	SELECT id, invoice_number, user_id, status, total_amount::text, currency,
	       provider, payment_ref, invoiced_at, paid_at, expires_at, metadata,
	       created_at, updated_at
	FROM user_invoices
`

func scanInvoice(row pgx.Row) (*billing.UserInvoice, error) {
	var inv billing.UserInvoice
	var total string
	var metadataJSON []byte

	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.UserID, &inv.Status, &total, &inv.Currency,
		&inv.Provider, &inv.PaymentRef, &inv.InvoicedAt, &inv.PaidAt, &inv.ExpiresAt,
		&metadataJSON, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inv.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total_amount %q: %w", total, err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &inv, nil
}

const lineSelect = `
	SELECT id, invoice_id, item_type, item_id, description, unit_price::text,
	       quantity, subscription_id, add_on_subscription_id
	FROM invoice_line_items
`

func (r *InvoiceRepository) loadLines(ctx context.Context, invoiceID int64) ([]billing.InvoiceLineItem, error) {
	rows, err := r.db.Query(ctx, lineSelect+` WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	defer rows.Close()
	return collectLines(rows)
}

func (r *InvoiceRepository) loadLinesTx(ctx context.Context, tx pgx.Tx, invoiceID int64) ([]billing.InvoiceLineItem, error) {
	rows, err := tx.Query(ctx, lineSelect+` WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	defer rows.Close()
	return collectLines(rows)
}

func collectLines(rows pgx.Rows) ([]billing.InvoiceLineItem, error) {
	var lines []billing.InvoiceLineItem
	for rows.Next() {
		var line billing.InvoiceLineItem
		var unitPrice string

		err := rows.Scan(
			&line.ID, &line.InvoiceID, &line.ItemType, &line.ItemID, &line.Description,
			&unitPrice, &line.Quantity, &line.SubscriptionID, &line.AddOnSubscriptionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}

		if line.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("invalid unit_price %q: %w", unitPrice, err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
