// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"net/http"
	"strconv"

	"subpay-service/internal/middleware"
	"subpay-service/internal/pkg/response"
	service "subpay-service/internal/service/subscription"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

type startTrialRequest struct {
	TarifPlanID int64 `json:"tarif_plan_id" binding:"required"`
}

// StartTrial handles POST /subscriptions/trial
func (h *SubscriptionHandler) StartTrial(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req startTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	sub, err := h.subscriptionService.StartTrial(c.Request.Context(), userID, req.TarifPlanID)
	if err != nil {
		response.FromError(c, "failed to start trial", err)
		return
	}

	response.Success(c, http.StatusCreated, "trial started", sub)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /subscriptions/:id/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid subscription ID", err)
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if req.Reason == "" {
		req.Reason = "user_requested"
	}

	if err := h.subscriptionService.Cancel(c.Request.Context(), userID, subID, req.Reason); err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription cancelled", nil)
}

// Get handles GET /subscriptions/:id
func (h *SubscriptionHandler) Get(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid subscription ID", err)
		return
	}

	sub, err := h.subscriptionService.Get(c.Request.Context(), userID, subID)
	if err != nil {
		response.FromError(c, "failed to fetch subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", sub)
}

// GetActive handles GET /subscriptions/active
func (h *SubscriptionHandler) GetActive(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	sub, err := h.subscriptionService.GetActive(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "no live subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", sub)
}

// List handles GET /subscriptions
func (h *SubscriptionHandler) List(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	subs, addOns, err := h.subscriptionService.List(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to list subscriptions", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriptions retrieved", gin.H{
		"subscriptions": subs,
		"add_ons":       addOns,
	})
}
