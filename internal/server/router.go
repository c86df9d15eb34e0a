package server

import (
	"time"

	"storefront-orders/internal/handler"
	"storefront-orders/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	JWTSecret      []byte
	CORSOrigins    []string
	RequestTimeout time.Duration
	RateLimit      int
}

type Handlers struct {
	Orders  *handler.OrderHandler
	Wallet  *handler.WalletHandler
	Coupons *handler.CouponHandler
	Health  *handler.HealthHandler
	// Webhook is nil when no Stripe account is configured.
	Webhook *handler.WebhookHandler
}

func NewRouter(h Handlers, opts Options, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing("storefront-orders"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(middleware.Timeout(opts.RequestTimeout))

	if h.Health != nil {
		r.GET("/health", h.Health.Health)
	}
	if h.Webhook != nil {
		r.POST("/webhooks/stripe", h.Webhook.Stripe)
	}

	limiter := middleware.NewRateLimiter(opts.RateLimit, 0)
	authed := r.Group("/", middleware.Auth(opts.JWTSecret))

	orders := authed.Group("/orders")
	{
		orders.POST("", limiter.Middleware(), h.Orders.PlaceOrder)
		orders.GET("", h.Orders.ListMine)
		orders.PATCH("/payment", h.Orders.ConfirmPayment)
		orders.GET("/:id", h.Orders.GetOrder)
		orders.PATCH("/:id/status", h.Orders.UpdateStatus)
		orders.POST("/:id/retry-payment", limiter.Middleware(), h.Orders.RetryPayment)
		orders.POST("/:id/request-return", h.Orders.RequestReturn)
	}

	authed.GET("/wallet", h.Wallet.GetWallet)
	authed.GET("/coupons/applicable", h.Coupons.Applicable)

	admin := authed.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/orders", h.Orders.ListAll)
		admin.POST("/coupons", h.Coupons.Create)
		admin.GET("/coupons", h.Coupons.List)
		admin.PATCH("/coupons/:id/toggle", h.Coupons.Toggle)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
