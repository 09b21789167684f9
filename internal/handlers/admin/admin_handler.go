// internal/handlers/admin/admin_handler.go
package admin

import (
	"net/http"
	"strconv"

	"subpay-service/internal/domain/token"
	"subpay-service/internal/pkg/response"
	checkoutsvc "subpay-service/internal/service/checkout"
	subscriptionsvc "subpay-service/internal/service/subscription"
	tokensvc "subpay-service/internal/service/token"
	usersvc "subpay-service/internal/service/user"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminHandler exposes the operational surface: refunds, lifecycle
// sweeps, ledger verification and account provisioning.
type AdminHandler struct {
	checkoutService     *checkoutsvc.CheckoutService
	subscriptionService *subscriptionsvc.SubscriptionService
	tokenService        *tokensvc.TokenService
	userService         *usersvc.UserService
}

func NewAdminHandler(
	checkoutService *checkoutsvc.CheckoutService,
	subscriptionService *subscriptionsvc.SubscriptionService,
	tokenService *tokensvc.TokenService,
	userService *usersvc.UserService,
) *AdminHandler {
	return &AdminHandler{
		checkoutService:     checkoutService,
		subscriptionService: subscriptionService,
		tokenService:        tokenService,
		userService:         userService,
	}
}

type refundRequest struct {
	Amount string `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// RefundInvoice handles POST /admin/invoices/:id/refund
func (h *AdminHandler) RefundInvoice(c *gin.Context) {
	invoiceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid invoice ID", err)
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		response.Error(c, http.StatusBadRequest, "amount must be a positive decimal", err)
		return
	}

	resp, err := h.checkoutService.RefundInvoice(c.Request.Context(), invoiceID, amount, req.Reason)
	if err != nil {
		response.FromError(c, "failed to refund invoice", err)
		return
	}
	if !resp.Success {
		response.Error(c, http.StatusBadGateway, "provider rejected refund", nil, resp)
		return
	}

	response.Success(c, http.StatusOK, "invoice refunded", resp.Data)
}

// RunSweeps handles POST /admin/lifecycle/sweep: expires overdue
// invoices, ends lapsed trials and retires expired subscriptions.
func (h *AdminHandler) RunSweeps(c *gin.Context) {
	ctx := c.Request.Context()

	expiredInvoices, err := h.checkoutService.ExpireInvoices(ctx)
	if err != nil {
		response.FromError(c, "invoice sweep failed", err)
		return
	}

	endedTrials, err := h.subscriptionService.ExpireTrials(ctx)
	if err != nil {
		response.FromError(c, "trial sweep failed", err)
		return
	}

	expiredSubs, err := h.subscriptionService.ExpireSubscriptions(ctx)
	if err != nil {
		response.FromError(c, "subscription sweep failed", err)
		return
	}

	response.Success(c, http.StatusOK, "sweeps completed", gin.H{
		"expired_invoices":      expiredInvoices,
		"ended_trials":          endedTrials,
		"expired_subscriptions": expiredSubs,
	})
}

// ActivateSubscription handles POST /admin/subscriptions/:id/activate.
// Operator remediation for captures whose activation step failed;
// trials are rejected, they convert only through payment.
func (h *AdminHandler) ActivateSubscription(c *gin.Context) {
	subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid subscription ID", err)
		return
	}

	sub, err := h.subscriptionService.Activate(c.Request.Context(), subID)
	if err != nil {
		response.FromError(c, "failed to activate subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription activated", sub)
}

// VerifyLedger handles GET /admin/users/:id/ledger/verify
func (h *AdminHandler) VerifyLedger(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user ID", err)
		return
	}

	consistent, cached, sum, err := h.tokenService.VerifyLedger(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to verify ledger", err)
		return
	}

	response.Success(c, http.StatusOK, "ledger verified", gin.H{
		"consistent":     consistent,
		"cached_balance": cached,
		"ledger_sum":     sum,
	})
}

type grantTokensRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// GrantTokens handles POST /admin/tokens/grant: a manual BONUS credit.
func (h *AdminHandler) GrantTokens(c *gin.Context) {
	var req grantTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	txn, err := h.tokenService.Credit(c.Request.Context(), req.UserID, req.Amount,
		token.TypeBonus, req.Reference, req.Description)
	if err != nil {
		response.FromError(c, "failed to grant tokens", err)
		return
	}

	response.Success(c, http.StatusCreated, "tokens granted", txn)
}

type registerUserRequest struct {
	Email string `json:"email" binding:"required"`
}

// RegisterUser handles POST /admin/users
func (h *AdminHandler) RegisterUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	u, err := h.userService.Register(c.Request.Context(), req.Email)
	if err != nil {
		response.FromError(c, "failed to register user", err)
		return
	}

	response.Success(c, http.StatusCreated, "user registered", u)
}

// GetUser handles GET /admin/users/:id
func (h *AdminHandler) GetUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user ID", err)
		return
	}

	u, err := h.userService.Get(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to fetch user", err)
		return
	}

	response.Success(c, http.StatusOK, "user retrieved", u)
}
