package handler

import (
	"playdrive/internal/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, wh *WebhookHandler, jwt *auth.JWT, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	// 支付回调使用 stripe 签名鉴权，不走 JWT
	r.POST("/webhook/stripe", wh.Stripe)

	api := r.Group("/api/v1")
	api.Use(auth.Middleware(jwt))
	{
		account := api.Group("/account")
		{
			account.POST("/register", h.Register)
			account.GET("/me", h.GetMe)
			account.POST("/username", h.UpdateUsername)
			account.GET("/transactions", h.ListTransactions)
			account.GET("/purchases", h.ListPurchases)
		}

		entitlement := api.Group("/entitlement")
		{
			entitlement.GET("/post", h.CanPost)
			entitlement.GET("/premium", h.IsPremium)
		}

		content := api.Group("/content")
		{
			content.POST("", h.Publish)
			content.POST("/:id/view", h.RecordView)
		}

		wallet := api.Group("/wallet")
		{
			wallet.POST("/transfer", h.Transfer)
		}

		store := api.Group("/store")
		{
			store.GET("/items", h.ListItems)
			store.POST("/purchase", h.Purchase)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
