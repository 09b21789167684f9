// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"subpay-service/internal/config"
	"subpay-service/internal/db"
	"subpay-service/internal/events"
	adminHandler "subpay-service/internal/handlers/admin"
	catalogHandler "subpay-service/internal/handlers/catalog"
	checkoutHandler "subpay-service/internal/handlers/checkout"
	subscriptionHandler "subpay-service/internal/handlers/subscription"
	tokenHandler "subpay-service/internal/handlers/token"
	webhookHandler "subpay-service/internal/handlers/webhook"
	"subpay-service/internal/middleware"
	"subpay-service/internal/payment"
	"subpay-service/internal/payment/mockpay"
	"subpay-service/internal/payment/stripepay"
	"subpay-service/internal/pkg/idempotency"
	"subpay-service/internal/repository/postgres"
	catalogsvc "subpay-service/internal/service/catalog"
	checkoutsvc "subpay-service/internal/service/checkout"
	"subpay-service/internal/service/lifecycle"
	subscriptionsvc "subpay-service/internal/service/subscription"
	tokensvc "subpay-service/internal/service/token"
	usersvc "subpay-service/internal/service/user"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	httpServer *http.Server
	pool       *pgxpool.Pool
	redis      *redis.Client

	checkoutService     *checkoutsvc.CheckoutService
	subscriptionService *subscriptionsvc.SubscriptionService

	sweepStop chan struct{}
}

func NewServer() *Server {
	cfg := config.Load()
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		cfg:       cfg,
		engine:    gin.New(),
		sweepStop: make(chan struct{}),
	}
}

func (s *Server) Start() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	s.logger = logger

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.pool = pool

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redis = redisClient
	logger.Info("storage connected")

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	userRepo := postgres.NewUserRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	subRepo := postgres.NewSubscriptionRepository(pool)
	addOnSubRepo := postgres.NewAddOnSubscriptionRepository(pool)
	tokenRepo := postgres.NewTokenRepository(pool)

	// ----- Payment providers -----
	providers := payment.NewRegistry()
	providers.Register(mockpay.New(s.cfg.MockWebhookSecret))
	if s.cfg.StripeAPIKey != "" {
		providers.Register(stripepay.New(s.cfg.StripeAPIKey, s.cfg.StripeWebhookSecret))
	}

	// ----- Redis-backed helpers -----
	deduper := idempotency.NewDeduper(redisClient, s.cfg.WebhookRetention)
	statusCache := idempotency.NewStatusCache(redisClient, s.cfg.SessionStatusTTL)

	// ----- Services -----
	tokenService := tokensvc.NewTokenService(tokenRepo, dbWrapper, logger)
	catalogService := catalogsvc.NewCatalogService(catalogRepo, logger)
	userService := usersvc.NewUserService(userRepo, logger)
	checkoutService := checkoutsvc.NewCheckoutService(
		invoiceRepo, catalogRepo, subRepo, addOnSubRepo, userRepo,
		tokenService, providers, statusCache, dbWrapper, logger,
		s.cfg.InvoiceTTL, s.cfg.CheckoutSuccessURL, s.cfg.CheckoutCancelURL,
	)
	subscriptionService := subscriptionsvc.NewSubscriptionService(
		subRepo, addOnSubRepo, catalogRepo, userRepo, invoiceRepo,
		providers, dbWrapper, logger,
		s.cfg.RemoteProvider, s.cfg.RenewalInvoiceTTL,
	)
	s.checkoutService = checkoutService
	s.subscriptionService = subscriptionService

	// ----- Event dispatcher -----
	dispatcher := events.NewDispatcher(logger)
	dispatcher.Register(lifecycle.NewPaymentCapturedHandler(
		invoiceRepo, catalogRepo, subRepo, addOnSubRepo, tokenService, dbWrapper, logger))
	dispatcher.Register(lifecycle.NewPaymentFailedHandler(invoiceRepo, dbWrapper, logger))
	dispatcher.Register(lifecycle.NewSubscriptionCancelledHandler(subRepo, addOnSubRepo, dbWrapper, logger))

	// ----- Handlers -----
	authMW := middleware.NewAuthMiddleware(s.cfg.JWTSecret)
	handlers := &Handlers{
		WebhookHandler:      webhookHandler.NewWebhookHandler(providers, dispatcher, deduper, statusCache, logger),
		CheckoutHandler:     checkoutHandler.NewCheckoutHandler(checkoutService),
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(subscriptionService),
		TokenHandler:        tokenHandler.NewTokenHandler(tokenService),
		CatalogHandler:      catalogHandler.NewCatalogHandler(catalogService),
		AdminHandler: adminHandler.NewAdminHandler(
			checkoutService, subscriptionService, tokenService, userService),
		AuthMiddleware: authMW,
	}

	s.engine.Use(middleware.Recovery(logger))
	s.engine.Use(middleware.Logging(logger))
	s.engine.Use(middleware.CORS())
	SetupRouter(s.engine, handlers)

	go s.runSweeps()

	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	logger.Info("server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runSweeps drives the periodic lifecycle maintenance: overdue
// invoices expire, lapsed trials end, lapsed subscriptions retire.
func (s *Server) runSweeps() {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := s.checkoutService.ExpireInvoices(ctx); err != nil {
				s.logger.Error("invoice sweep failed", zap.Error(err))
			}
			if _, err := s.subscriptionService.ExpireTrials(ctx); err != nil {
				s.logger.Error("trial sweep failed", zap.Error(err))
			}
			if _, err := s.subscriptionService.ExpireSubscriptions(ctx); err != nil {
				s.logger.Error("subscription sweep failed", zap.Error(err))
			}
			cancel()
		case <-s.sweepStop:
			return
		}
	}
}

// Shutdown drains in-flight requests and closes the pools.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.sweepStop)

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.logger != nil {
		s.logger.Sync()
	}
	return err
}
