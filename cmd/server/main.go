package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storefront-orders/internal/config"
	"storefront-orders/internal/database"
	"storefront-orders/internal/handler"
	"storefront-orders/internal/infrastructure/events"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/logger"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/server"
	"storefront-orders/internal/service"
	"storefront-orders/internal/telemetry"
	"storefront-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdown, err := telemetry.SetupTracer(ctx, "storefront-orders", cfg.Env)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				zl.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	db, err := database.NewPostgres(ctx, cfg.DB)
	if err != nil {
		return err
	}
	dbService := database.New(db, cfg.DB.Database, zl)
	defer dbService.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic, zl)
	}
	defer publisher.Close()

	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)
	productRepo := repo.NewProductRepo(db)
	couponRepo := repo.NewCouponRepo(db)
	walletRepo := repo.NewWalletRepo(db)
	cartRepo := repo.NewCartRepo(rdb)
	txRunner := database.NewTxRunner(db)

	inventory := service.NewInventory(productRepo)
	ledger := service.NewLedger(walletRepo, zl)
	coupons := service.NewCouponService(couponRepo, zl)

	var (
		gateway       payment.PaymentGateway
		stripeGateway *payment.StripeGateway
		webhook       *handler.WebhookHandler
	)
	if cfg.StripeSecretKey != "" {
		stripeGateway = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		gateway = stripeGateway
	} else {
		zl.Warn("STRIPE_SECRET_KEY not set, using the in-memory payment gateway")
		gateway = payment.NewMockGateway(0)
	}

	checkout, err := service.NewCheckoutService(service.CheckoutDeps{
		Tx:        txRunner,
		Carts:     cartRepo,
		Products:  productRepo,
		Orders:    orderRepo,
		Payments:  paymentRepo,
		Inventory: inventory,
		Coupons:   coupons,
		Ledger:    ledger,
		Gateway:   gateway,
		Events:    publisher,
		Logger:    zl,
	}, service.CheckoutConfig{
		ShippingFee:    cfg.ShippingFee,
		CODLimit:       cfg.CODLimit,
		Currency:       cfg.Currency,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	if err != nil {
		return err
	}

	orders, err := service.NewOrderService(service.OrderDeps{
		Tx:        txRunner,
		Orders:    orderRepo,
		Payments:  paymentRepo,
		Inventory: inventory,
		Ledger:    ledger,
		Gateway:   gateway,
		Events:    publisher,
		Logger:    zl,
	})
	if err != nil {
		return err
	}

	payments, err := service.NewPaymentService(service.PaymentDeps{
		Tx:       txRunner,
		Orders:   orderRepo,
		Payments: paymentRepo,
		Ledger:   ledger,
		Gateway:  gateway,
		Events:   publisher,
		Logger:   zl,
	}, service.PaymentConfig{
		Currency:       cfg.Currency,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	if err != nil {
		return err
	}

	if stripeGateway != nil && cfg.StripeWebhookSecret != "" {
		webhook = handler.NewWebhookHandler(stripeGateway, payments, zl)
	}

	if cfg.ReconcileInterval > 0 {
		rw := worker.NewReconciliationWorker(paymentRepo, gateway, payments, zl, cfg.ReconcileInterval, cfg.ReconcileStaleAfter)
		go rw.Run(ctx)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Handlers{
		Orders:  handler.NewOrderHandler(checkout, orders, payments, zl),
		Wallet:  handler.NewWalletHandler(ledger, zl),
		Coupons: handler.NewCouponHandler(coupons, zl),
		Health:  handler.NewHealthHandler(dbService),
		Webhook: webhook,
	}, server.Options{
		JWTSecret:      []byte(cfg.JWTSecret),
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
	}, zl)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("storefront-orders listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zl.Info("server shutdown complete")
	return nil
}
