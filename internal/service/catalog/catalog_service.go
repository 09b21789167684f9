// internal/service/catalog/catalog_service.go
package catalog

import (
	"context"
	"fmt"
	"strings"

	"subpay-service/internal/domain/catalog"
	xerrors "subpay-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// CatalogService manages the purchasable items: tarif plans, token
// bundles and add-ons. Items are never deleted, only deactivated, so
// historical invoices keep resolving.
type CatalogService struct {
	catalogRepo catalog.Repository
	logger      *zap.Logger
}

func NewCatalogService(catalogRepo catalog.Repository, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		catalogRepo: catalogRepo,
		logger:      logger,
	}
}

// CreatePlan creates a new tarif plan
func (s *CatalogService) CreatePlan(ctx context.Context, p *catalog.TarifPlan) error {
	if err := validateItem(p.Name, p.Currency, p.Price.IsNegative()); err != nil {
		return err
	}
	if p.TrialDays < 0 {
		return fmt.Errorf("trial days cannot be negative: %w", xerrors.ErrValidation)
	}
	if p.DefaultTokens < 0 {
		return fmt.Errorf("default tokens cannot be negative: %w", xerrors.ErrValidation)
	}

	normalizeItem(&p.Slug, p.Name, &p.Currency)
	if p.Status == "" {
		p.Status = catalog.StatusActive
	}
	if p.BillingPeriod == "" {
		p.BillingPeriod = catalog.PeriodMonthly
	}

	if err := s.catalogRepo.CreatePlan(ctx, p); err != nil {
		return err
	}

	s.logger.Info("tarif plan created",
		zap.Int64("plan_id", p.ID),
		zap.String("slug", p.Slug),
		zap.String("billing_period", string(p.BillingPeriod)))
	return nil
}

// UpdatePlan updates an existing tarif plan
func (s *CatalogService) UpdatePlan(ctx context.Context, p *catalog.TarifPlan) error {
	if err := validateItem(p.Name, p.Currency, p.Price.IsNegative()); err != nil {
		return err
	}
	normalizeItem(&p.Slug, p.Name, &p.Currency)
	return s.catalogRepo.UpdatePlan(ctx, p)
}

// GetPlan retrieves one tarif plan
func (s *CatalogService) GetPlan(ctx context.Context, id int64) (*catalog.TarifPlan, error) {
	return s.catalogRepo.FindPlanByID(ctx, id)
}

// ListPlans retrieves tarif plans; activeOnly hides retired ones
func (s *CatalogService) ListPlans(ctx context.Context, activeOnly bool) ([]catalog.TarifPlan, error) {
	return s.catalogRepo.ListPlans(ctx, activeOnly)
}

// CreateBundle creates a new token bundle
func (s *CatalogService) CreateBundle(ctx context.Context, b *catalog.TokenBundle) error {
	if err := validateItem(b.Name, b.Currency, b.Price.IsNegative()); err != nil {
		return err
	}
	if b.TokenAmount <= 0 {
		return fmt.Errorf("token amount must be positive: %w", xerrors.ErrValidation)
	}

	normalizeItem(&b.Slug, b.Name, &b.Currency)
	if b.Status == "" {
		b.Status = catalog.StatusActive
	}

	if err := s.catalogRepo.CreateBundle(ctx, b); err != nil {
		return err
	}

	s.logger.Info("token bundle created",
		zap.Int64("bundle_id", b.ID),
		zap.String("slug", b.Slug),
		zap.Int64("token_amount", b.TokenAmount))
	return nil
}

// UpdateBundle updates an existing token bundle
func (s *CatalogService) UpdateBundle(ctx context.Context, b *catalog.TokenBundle) error {
	if err := validateItem(b.Name, b.Currency, b.Price.IsNegative()); err != nil {
		return err
	}
	if b.TokenAmount <= 0 {
		return fmt.Errorf("token amount must be positive: %w", xerrors.ErrValidation)
	}
	normalizeItem(&b.Slug, b.Name, &b.Currency)
	return s.catalogRepo.UpdateBundle(ctx, b)
}

// GetBundle retrieves one token bundle
func (s *CatalogService) GetBundle(ctx context.Context, id int64) (*catalog.TokenBundle, error) {
	return s.catalogRepo.FindBundleByID(ctx, id)
}

// ListBundles retrieves token bundles
func (s *CatalogService) ListBundles(ctx context.Context, activeOnly bool) ([]catalog.TokenBundle, error) {
	return s.catalogRepo.ListBundles(ctx, activeOnly)
}

// CreateAddOn creates a new add-on
func (s *CatalogService) CreateAddOn(ctx context.Context, a *catalog.AddOn) error {
	if err := validateItem(a.Name, a.Currency, a.Price.IsNegative()); err != nil {
		return err
	}

	normalizeItem(&a.Slug, a.Name, &a.Currency)
	if a.Status == "" {
		a.Status = catalog.StatusActive
	}
	if a.BillingPeriod == "" {
		a.BillingPeriod = catalog.PeriodMonthly
	}

	if err := s.catalogRepo.CreateAddOn(ctx, a); err != nil {
		return err
	}

	s.logger.Info("add-on created",
		zap.Int64("add_on_id", a.ID),
		zap.String("slug", a.Slug))
	return nil
}

// UpdateAddOn updates an existing add-on
func (s *CatalogService) UpdateAddOn(ctx context.Context, a *catalog.AddOn) error {
	if err := validateItem(a.Name, a.Currency, a.Price.IsNegative()); err != nil {
		return err
	}
	normalizeItem(&a.Slug, a.Name, &a.Currency)
	return s.catalogRepo.UpdateAddOn(ctx, a)
}

// GetAddOn retrieves one add-on
func (s *CatalogService) GetAddOn(ctx context.Context, id int64) (*catalog.AddOn, error) {
	return s.catalogRepo.FindAddOnByID(ctx, id)
}

// ListAddOns retrieves add-ons
func (s *CatalogService) ListAddOns(ctx context.Context, activeOnly bool) ([]catalog.AddOn, error) {
	return s.catalogRepo.ListAddOns(ctx, activeOnly)
}

func validateItem(name, currency string, negativePrice bool) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required: %w", xerrors.ErrValidation)
	}
	if negativePrice {
		return fmt.Errorf("price cannot be negative: %w", xerrors.ErrValidation)
	}
	if currency != "" && len(currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code: %w", xerrors.ErrValidation)
	}
	return nil
}

func normalizeItem(slug *string, name string, currency *string) {
	if *slug == "" {
		*slug = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	}
	if *currency == "" {
		*currency = "EUR"
	} else {
		*currency = strings.ToUpper(*currency)
	}
}
