// internal/repository/postgres/catalog_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"subpay-service/internal/domain/catalog"
	xerrors "subpay-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CatalogRepository struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// CreatePlan creates a new tarif plan
func (r *CatalogRepository) CreatePlan(ctx context.Context, p *catalog.TarifPlan) error {
	query := `
		INSERT INTO tarif_plans (
			name, slug, description, price, currency, billing_period,
			trial_days, default_tokens, status, sort_order
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		p.Name, p.Slug, p.Description, p.Price.String(), p.Currency, p.BillingPeriod,
		p.TrialDays, p.DefaultTokens, p.Status, p.SortOrder,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create tarif plan: %w", err)
	}

	return nil
}

// UpdatePlan updates an existing tarif plan
func (r *CatalogRepository) UpdatePlan(ctx context.Context, p *catalog.TarifPlan) error {
	query := `
		UPDATE tarif_plans
		SET name = $2, slug = $3, description = $4, price = $5, currency = $6,
		    billing_period = $7, trial_days = $8, default_tokens = $9,
		    status = $10, sort_order = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		p.ID, p.Name, p.Slug, p.Description, p.Price.String(), p.Currency,
		p.BillingPeriod, p.TrialDays, p.DefaultTokens, p.Status, p.SortOrder,
	).Scan(&p.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update tarif plan: %w", err)
	}

	return nil
}

// FindPlanByID retrieves a tarif plan by ID
func (r *CatalogRepository) FindPlanByID(ctx context.Context, id int64) (*catalog.TarifPlan, error) {
	query := `
		SELECT id, name, slug, description, price::text, currency, billing_period,
		       trial_days, default_tokens, status, sort_order, created_at, updated_at
		FROM tarif_plans
		WHERE id = $1
	`

	p, err := scanPlan(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tarif plan: %w", err)
	}

	return p, nil
}

// ListPlans retrieves tarif plans ordered for display
func (r *CatalogRepository) ListPlans(ctx context.Context, activeOnly bool) ([]catalog.TarifPlan, error) {
	query := `
		SELECT id, name, slug, description, price::text, currency, billing_period,
		       trial_days, default_tokens, status, sort_order, created_at, updated_at
		FROM tarif_plans
	`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY sort_order, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tarif plans: %w", err)
	}
	defer rows.Close()

	var plans []catalog.TarifPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tarif plan: %w", err)
		}
		plans = append(plans, *p)
	}

	return plans, rows.Err()
}

// CreateBundle creates a new token bundle
func (r *CatalogRepository) CreateBundle(ctx context.Context, b *catalog.TokenBundle) error {
	query := `
		INSERT INTO token_bundles (name, slug, description, price, currency, token_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		b.Name, b.Slug, b.Description, b.Price.String(), b.Currency, b.TokenAmount, b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create token bundle: %w", err)
	}

	return nil
}

// UpdateBundle updates an existing token bundle
func (r *CatalogRepository) UpdateBundle(ctx context.Context, b *catalog.TokenBundle) error {
	query := `
		UPDATE token_bundles
		SET name = $2, slug = $3, description = $4, price = $5, currency = $6,
		    token_amount = $7, status = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		b.ID, b.Name, b.Slug, b.Description, b.Price.String(), b.Currency,
		b.TokenAmount, b.Status,
	).Scan(&b.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update token bundle: %w", err)
	}

	return nil
}

// FindBundleByID retrieves a token bundle by ID
func (r *CatalogRepository) FindBundleByID(ctx context.Context, id int64) (*catalog.TokenBundle, error) {
	query := `
		SELECT id, name, slug, description, price::text, currency, token_amount,
		       status, created_at, updated_at
		FROM token_bundles
		WHERE id = $1
	`

	b, err := scanBundle(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token bundle: %w", err)
	}

	return b, nil
}

// ListBundles retrieves token bundles
func (r *CatalogRepository) ListBundles(ctx context.Context, activeOnly bool) ([]catalog.TokenBundle, error) {
	query := `
		SELECT id, name, slug, description, price::text, currency, token_amount,
		       status, created_at, updated_at
		FROM token_bundles
	`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY token_amount, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list token bundles: %w", err)
	}
	defer rows.Close()

	var bundles []catalog.TokenBundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token bundle: %w", err)
		}
		bundles = append(bundles, *b)
	}

	return bundles, rows.Err()
}

// CreateAddOn creates a new add-on
func (r *CatalogRepository) CreateAddOn(ctx context.Context, a *catalog.AddOn) error {
	query := `
		INSERT INTO add_ons (name, slug, description, price, currency, billing_period, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		a.Name, a.Slug, a.Description, a.Price.String(), a.Currency, a.BillingPeriod, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create add-on: %w", err)
	}

	return nil
}

// UpdateAddOn updates an existing add-on
func (r *CatalogRepository) UpdateAddOn(ctx context.Context, a *catalog.AddOn) error {
	query := `
		UPDATE add_ons
		SET name = $2, slug = $3, description = $4, price = $5, currency = $6,
		    billing_period = $7, status = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		a.ID, a.Name, a.Slug, a.Description, a.Price.String(), a.Currency,
		a.BillingPeriod, a.Status,
	).Scan(&a.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update add-on: %w", err)
	}

	return nil
}

// FindAddOnByID retrieves an add-on by ID
func (r *CatalogRepository) FindAddOnByID(ctx context.Context, id int64) (*catalog.AddOn, error) {
	query := `
		SELECT id, name, slug, description, price::text, currency, billing_period,
		       status, created_at, updated_at
		FROM add_ons
		WHERE id = $1
	`

	a, err := scanAddOn(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find add-on: %w", err)
	}

	return a, nil
}

// ListAddOns retrieves add-ons
func (r *CatalogRepository) ListAddOns(ctx context.Context, activeOnly bool) ([]catalog.AddOn, error) {
	query := `
		SELECT id, name, slug, description, price::text, currency, billing_period,
		       status, created_at, updated_at
		FROM add_ons
	`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list add-ons: %w", err)
	}
	defer rows.Close()

	var addOns []catalog.AddOn
	for rows.Next() {
		a, err := scanAddOn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan add-on: %w", err)
		}
		addOns = append(addOns, *a)
	}

	return addOns, rows.Err()
}

func scanPlan(row pgx.Row) (*catalog.TarifPlan, error) {
	var p catalog.TarifPlan
	var price string

	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &price, &p.Currency, &p.BillingPeriod,
		&p.TrialDays, &p.DefaultTokens, &p.Status, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return &p, nil
}

func scanBundle(row pgx.Row) (*catalog.TokenBundle, error) {
	var b catalog.TokenBundle
	var price string

	err := row.Scan(
		&b.ID, &b.Name, &b.Slug, &b.Description, &price, &b.Currency, &b.TokenAmount,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if b.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return &b, nil
}

func scanAddOn(row pgx.Row) (*catalog.AddOn, error) {
	var a catalog.AddOn
	var price string

	err := row.Scan(
		&a.ID, &a.Name, &a.Slug, &a.Description, &price, &a.Currency, &a.BillingPeriod,
		&a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return &a, nil
}
