// internal/handlers/checkout/checkout_handler.go
package checkout

import (
	"net/http"
	"strconv"

	"subpay-service/internal/middleware"
	"subpay-service/internal/pkg/response"
	service "subpay-service/internal/service/checkout"

	"github.com/gin-gonic/gin"
)

type CheckoutHandler struct {
	checkoutService *service.CheckoutService
}

func NewCheckoutHandler(checkoutService *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

// CreateCheckout handles POST /checkout
func (h *CheckoutHandler) CreateCheckout(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	inv, err := h.checkoutService.CreateCheckout(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, "failed to create checkout", err)
		return
	}

	response.Success(c, http.StatusCreated, "checkout created", inv)
}

type createSessionRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// CreateSession handles POST /checkout/:invoice_id/session
func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	invoiceID, err := strconv.ParseInt(c.Param("invoice_id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid invoice ID", err)
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	resp, err := h.checkoutService.CreateSession(c.Request.Context(), userID, invoiceID, req.Provider)
	if err != nil {
		response.FromError(c, "failed to create checkout session", err)
		return
	}
	if !resp.Success {
		response.Error(c, http.StatusBadGateway, "provider rejected checkout session", nil, resp)
		return
	}

	response.Success(c, http.StatusCreated, "checkout session created", resp.Data)
}

// SessionStatus handles GET /checkout/sessions/:provider/:session_id
func (h *CheckoutHandler) SessionStatus(c *gin.Context) {
	resp, err := h.checkoutService.SessionStatus(c.Request.Context(), c.Param("provider"), c.Param("session_id"))
	if err != nil {
		response.FromError(c, "failed to fetch session status", err)
		return
	}
	if !resp.Success {
		response.Error(c, http.StatusBadGateway, "provider rejected status lookup", nil, resp)
		return
	}

	response.Success(c, http.StatusOK, "session status", resp.Data)
}

// GetInvoice handles GET /invoices/:id
func (h *CheckoutHandler) GetInvoice(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	invoiceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid invoice ID", err)
		return
	}

	inv, err := h.checkoutService.GetInvoice(c.Request.Context(), userID, invoiceID)
	if err != nil {
		response.FromError(c, "failed to fetch invoice", err)
		return
	}

	response.Success(c, http.StatusOK, "invoice retrieved", inv)
}

// ListInvoices handles GET /invoices
func (h *CheckoutHandler) ListInvoices(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	invoices, err := h.checkoutService.ListInvoices(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to list invoices", err)
		return
	}

	response.Success(c, http.StatusOK, "invoices retrieved", invoices)
}
