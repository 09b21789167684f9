// internal/handlers/token/token_handler.go
package token

import (
	"net/http"
	"strconv"

	"subpay-service/internal/domain/token"
	"subpay-service/internal/middleware"
	"subpay-service/internal/pkg/response"
	service "subpay-service/internal/service/token"

	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	tokenService *service.TokenService
}

func NewTokenHandler(tokenService *service.TokenService) *TokenHandler {
	return &TokenHandler{
		tokenService: tokenService,
	}
}

// Balance handles GET /tokens/balance
func (h *TokenHandler) Balance(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	balance, err := h.tokenService.Balance(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to fetch balance", err)
		return
	}

	response.Success(c, http.StatusOK, "balance retrieved", balance)
}

// History handles GET /tokens/transactions
func (h *TokenHandler) History(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txns, err := h.tokenService.History(c.Request.Context(), userID, limit)
	if err != nil {
		response.FromError(c, "failed to fetch transactions", err)
		return
	}

	response.Success(c, http.StatusOK, "transactions retrieved", txns)
}

type spendRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// Spend handles POST /tokens/spend
func (h *TokenHandler) Spend(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	txn, err := h.tokenService.Debit(c.Request.Context(), userID, req.Amount,
		token.TypeUsage, req.Reference, req.Description)
	if err != nil {
		response.FromError(c, "failed to spend tokens", err)
		return
	}

	response.Success(c, http.StatusOK, "tokens spent", txn)
}
