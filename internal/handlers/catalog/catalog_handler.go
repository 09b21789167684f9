// internal/handlers/catalog/catalog_handler.go
package catalog

import (
	"net/http"
	"strconv"

	"subpay-service/internal/domain/catalog"
	"subpay-service/internal/pkg/response"
	service "subpay-service/internal/service/catalog"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	catalogService *service.CatalogService
}

func NewCatalogHandler(catalogService *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
	}
}

// ========== Public Endpoints ==========

// ListPlans handles GET /catalog/plans
func (h *CatalogHandler) ListPlans(c *gin.Context) {
	plans, err := h.catalogService.ListPlans(c.Request.Context(), true)
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

// GetPlan handles GET /catalog/plans/:id
func (h *CatalogHandler) GetPlan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid plan ID", err)
		return
	}

	plan, err := h.catalogService.GetPlan(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "failed to fetch plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan retrieved", plan)
}

// ListBundles handles GET /catalog/bundles
func (h *CatalogHandler) ListBundles(c *gin.Context) {
	bundles, err := h.catalogService.ListBundles(c.Request.Context(), true)
	if err != nil {
		response.FromError(c, "failed to list bundles", err)
		return
	}
	response.Success(c, http.StatusOK, "bundles retrieved", bundles)
}

// ListAddOns handles GET /catalog/add-ons
func (h *CatalogHandler) ListAddOns(c *gin.Context) {
	addOns, err := h.catalogService.ListAddOns(c.Request.Context(), true)
	if err != nil {
		response.FromError(c, "failed to list add-ons", err)
		return
	}
	response.Success(c, http.StatusOK, "add-ons retrieved", addOns)
}

// ========== Admin Endpoints ==========

// CreatePlan handles POST /admin/catalog/plans
func (h *CatalogHandler) CreatePlan(c *gin.Context) {
	var plan catalog.TarifPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.catalogService.CreatePlan(c.Request.Context(), &plan); err != nil {
		response.FromError(c, "failed to create plan", err)
		return
	}
	response.Success(c, http.StatusCreated, "plan created", plan)
}

// UpdatePlan handles PUT /admin/catalog/plans/:id
func (h *CatalogHandler) UpdatePlan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid plan ID", err)
		return
	}

	var plan catalog.TarifPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	plan.ID = id

	if err := h.catalogService.UpdatePlan(c.Request.Context(), &plan); err != nil {
		response.FromError(c, "failed to update plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan updated", plan)
}

// ListAllPlans handles GET /admin/catalog/plans
func (h *CatalogHandler) ListAllPlans(c *gin.Context) {
	plans, err := h.catalogService.ListPlans(c.Request.Context(), false)
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

// CreateBundle handles POST /admin/catalog/bundles
func (h *CatalogHandler) CreateBundle(c *gin.Context) {
	var bundle catalog.TokenBundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.catalogService.CreateBundle(c.Request.Context(), &bundle); err != nil {
		response.FromError(c, "failed to create bundle", err)
		return
	}
	response.Success(c, http.StatusCreated, "bundle created", bundle)
}

// UpdateBundle handles PUT /admin/catalog/bundles/:id
func (h *CatalogHandler) UpdateBundle(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid bundle ID", err)
		return
	}

	var bundle catalog.TokenBundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	bundle.ID = id

	if err := h.catalogService.UpdateBundle(c.Request.Context(), &bundle); err != nil {
		response.FromError(c, "failed to update bundle", err)
		return
	}
	response.Success(c, http.StatusOK, "bundle updated", bundle)
}

// CreateAddOn handles POST /admin/catalog/add-ons
func (h *CatalogHandler) CreateAddOn(c *gin.Context) {
	var addOn catalog.AddOn
	if err := c.ShouldBindJSON(&addOn); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.catalogService.CreateAddOn(c.Request.Context(), &addOn); err != nil {
		response.FromError(c, "failed to create add-on", err)
		return
	}
	response.Success(c, http.StatusCreated, "add-on created", addOn)
}

// UpdateAddOn handles PUT /admin/catalog/add-ons/:id
func (h *CatalogHandler) UpdateAddOn(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid add-on ID", err)
		return
	}

	var addOn catalog.AddOn
	if err := c.ShouldBindJSON(&addOn); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	addOn.ID = id

	if err := h.catalogService.UpdateAddOn(c.Request.Context(), &addOn); err != nil {
		response.FromError(c, "failed to update add-on", err)
		return
	}
	response.Success(c, http.StatusOK, "add-on updated", addOn)
}
