package handler

import (
	"context"
	"net/http"
	"time"

	"creditengine/internal/infrastructure/cache"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 配置路由；gatherer 为空时使用默认注册表
func SetupRouter(h *Handler, db *gorm.DB, rdb *redis.Client, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		purchase := api.Group("/purchase")
		{
			purchase.POST("/create", h.CreatePurchase)
			purchase.GET("/detail", h.GetPurchase)
			purchase.GET("/list", h.ListPurchases)
			purchase.POST("/cancel", h.CancelPurchase)
			purchase.POST("/settle", h.BeginSettlement)
			purchase.POST("/reverse", h.ReversePurchase)
		}

		settlement := api.Group("/settlement")
		{
			settlement.GET("/checkout/return", h.CheckoutReturn)
			settlement.GET("/wallet/return", h.WalletReturn)
			settlement.POST("/intent/confirm", h.ConfirmIntent)
		}

		api.POST("/webhook/:channel", h.Webhook)

		proof := api.Group("/proof")
		{
			proof.POST("/upload", h.UploadProof)
			proof.POST("/review", h.ReviewProof)
			proof.GET("/list", h.ListProofs)
		}

		api.POST("/coupon/validate", h.ValidateCoupon)

		subscription := api.Group("/subscription")
		{
			subscription.POST("/activate", h.ActivateSubscription)
			subscription.POST("/cancel", h.CancelSubscription)
			subscription.GET("/active", h.GetActiveSubscription)
		}

		credit := api.Group("/credit")
		{
			credit.POST("/usage", h.ApplyUsage)
			credit.GET("/balance", h.GetBalance)
			credit.GET("/check", h.CheckAvailability)
			credit.GET("/ledger", h.ListLedger)
			credit.POST("/settings", h.UpdateSettings)
		}
	}

	r.GET("/health", healthHandler(db, rdb))

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// healthHandler 检查 MySQL 与 Redis，Redis 未配置时跳过
func healthHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"status": "ok", "db": "ok"}
		code := http.StatusOK

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status["status"] = "degraded"
			status["db"] = err.Error()
			code = http.StatusServiceUnavailable
		}

		if rdb != nil {
			if err := cache.Ping(ctx, rdb); err != nil {
				status["status"] = "degraded"
				status["redis"] = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				status["redis"] = "ok"
			}
		}

		c.JSON(code, status)
	}
}
