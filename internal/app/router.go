// internal/app/router.go
package app

import (
	adminHandler "subpay-service/internal/handlers/admin"
	catalogHandler "subpay-service/internal/handlers/catalog"
	checkoutHandler "subpay-service/internal/handlers/checkout"
	subscriptionHandler "subpay-service/internal/handlers/subscription"
	tokenHandler "subpay-service/internal/handlers/token"
	webhookHandler "subpay-service/internal/handlers/webhook"
	"subpay-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	WebhookHandler      *webhookHandler.WebhookHandler
	CheckoutHandler     *checkoutHandler.CheckoutHandler
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	TokenHandler        *tokenHandler.TokenHandler
	CatalogHandler      *catalogHandler.CatalogHandler
	AdminHandler        *adminHandler.AdminHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ==================== Provider Webhooks ====================
	// Authenticated by signature, never by bearer token.
	api.POST("/webhooks/:provider", h.WebhookHandler.Receive)

	// ==================== Catalog (public) ====================
	catalog := api.Group("/catalog")
	{
		catalog.GET("/plans", h.CatalogHandler.ListPlans)
		catalog.GET("/plans/:id", h.CatalogHandler.GetPlan)
		catalog.GET("/bundles", h.CatalogHandler.ListBundles)
		catalog.GET("/add-ons", h.CatalogHandler.ListAddOns)
	}

	// ==================== Checkout & Invoices ====================
	checkout := api.Group("/checkout")
	checkout.Use(h.AuthMiddleware.Auth())
	{
		checkout.POST("", h.CheckoutHandler.CreateCheckout)
		checkout.POST("/:invoice_id/session", h.CheckoutHandler.CreateSession)
		checkout.GET("/sessions/:provider/:session_id", h.CheckoutHandler.SessionStatus)
	}

	invoices := api.Group("/invoices")
	invoices.Use(h.AuthMiddleware.Auth())
	{
		invoices.GET("", h.CheckoutHandler.ListInvoices)
		invoices.GET("/:id", h.CheckoutHandler.GetInvoice)
	}

	// ==================== Subscriptions ====================
	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(h.AuthMiddleware.Auth())
	{
		subscriptions.GET("", h.SubscriptionHandler.List)
		subscriptions.GET("/active", h.SubscriptionHandler.GetActive)
		subscriptions.GET("/:id", h.SubscriptionHandler.Get)
		subscriptions.POST("/trial", h.SubscriptionHandler.StartTrial)
		subscriptions.POST("/:id/cancel", h.SubscriptionHandler.Cancel)
	}

	// ==================== Tokens ====================
	tokens := api.Group("/tokens")
	tokens.Use(h.AuthMiddleware.Auth())
	{
		tokens.GET("/balance", h.TokenHandler.Balance)
		tokens.GET("/transactions", h.TokenHandler.History)
		tokens.POST("/spend", h.TokenHandler.Spend)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.Auth(), h.AuthMiddleware.AdminOnly())
	{
		admin.POST("/users", h.AdminHandler.RegisterUser)
		admin.GET("/users/:id", h.AdminHandler.GetUser)
		admin.GET("/users/:id/ledger/verify", h.AdminHandler.VerifyLedger)

		admin.POST("/invoices/:id/refund", h.AdminHandler.RefundInvoice)
		admin.POST("/subscriptions/:id/activate", h.AdminHandler.ActivateSubscription)
		admin.POST("/tokens/grant", h.AdminHandler.GrantTokens)
		admin.POST("/lifecycle/sweep", h.AdminHandler.RunSweeps)

		admin.GET("/catalog/plans", h.CatalogHandler.ListAllPlans)
		admin.POST("/catalog/plans", h.CatalogHandler.CreatePlan)
		admin.PUT("/catalog/plans/:id", h.CatalogHandler.UpdatePlan)
		admin.POST("/catalog/bundles", h.CatalogHandler.CreateBundle)
		admin.PUT("/catalog/bundles/:id", h.CatalogHandler.UpdateBundle)
		admin.POST("/catalog/add-ons", h.CatalogHandler.CreateAddOn)
		admin.PUT("/catalog/add-ons/:id", h.CatalogHandler.UpdateAddOn)
	}
}
