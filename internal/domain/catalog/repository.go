// internal/domain/catalog/repository.go
package catalog

import "context"

type Repository interface {
	CreatePlan(ctx context.Context, p *TarifPlan) error
	UpdatePlan(ctx context.Context, p *TarifPlan) error
	FindPlanByID(ctx context.Context, id int64) (*TarifPlan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]TarifPlan, error)

	CreateBundle(ctx context.Context, b *TokenBundle) error
	UpdateBundle(ctx context.Context, b *TokenBundle) error
	FindBundleByID(ctx context.Context, id int64) (*TokenBundle, error)
	ListBundles(ctx context.Context, activeOnly bool) ([]TokenBundle, error)

	CreateAddOn(ctx context.Context, a *AddOn) error
	UpdateAddOn(ctx context.Context, a *AddOn) error
	FindAddOnByID(ctx context.Context, id int64) (*AddOn, error)
	ListAddOns(ctx context.Context, activeOnly bool) ([]AddOn, error)
}
