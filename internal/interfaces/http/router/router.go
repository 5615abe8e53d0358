package router

import (
	"github.com/freightbill/backend/internal/infrastructure/auth"
	"github.com/freightbill/backend/internal/infrastructure/config"
	"github.com/freightbill/backend/internal/infrastructure/logger"
	"github.com/freightbill/backend/internal/interfaces/http/handler"
	"github.com/freightbill/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	System  *handler.SystemHandler
	Billing *handler.BillingHandler
	Dispute *handler.DisputeHandler
}

// New builds the gin engine with the full middleware chain and all routes
func New(cfg *config.Config, log *zap.Logger, jwtService *auth.JWTService, h Handlers) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		_ = engine.SetTrustedProxies(cfg.HTTP.TrustedProxies)
	}

	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	engine.Use(middleware.RequestID(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORS(corsConfig))

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.Logger = log
	engine.Use(middleware.JWTAuth(jwtConfig))

	engine.GET("/health", h.System.Health)

	v1 := engine.Group("/api/v1")
	{
		billing := v1.Group("/billing")
		{
			billing.POST("/runs", h.Billing.RunMonthly)

			pre := billing.Group("/pre-invoices")
			{
				pre.GET("", h.Billing.List)
				pre.GET("/:id", h.Billing.Get)
				pre.GET("/:id/history", h.Billing.History)
				pre.GET("/:id/blocks", h.Billing.Blocks)
				pre.GET("/:id/exports", h.Billing.Exports)
				pre.GET("/:id/disputes", h.Dispute.ListByPreInvoice)

				pre.POST("/:id/validate", h.Billing.Validate)
				pre.POST("/:id/contest", h.Billing.Contest)
				pre.POST("/:id/carrier-invoice", h.Billing.UploadCarrierInvoice)
				pre.POST("/:id/finalize", h.Billing.Finalize)
				pre.POST("/:id/payment", h.Billing.RecordPayment)
				pre.POST("/:id/export", h.Billing.Export)
				pre.POST("/:id/blocks", h.Billing.ForceBlock)
				pre.POST("/:id/blocks/reevaluate", h.Billing.ReevaluateBlocks)
				pre.DELETE("/:id/blocks/:blockId", h.Billing.LiftBlock)
			}

			disputes := billing.Group("/disputes")
			{
				disputes.GET("", h.Dispute.List)
				disputes.GET("/:id", h.Dispute.Get)
				disputes.POST("/:id/messages", h.Dispute.AddMessage)
				disputes.POST("/:id/resolve", h.Dispute.Resolve)
				disputes.POST("/:id/escalate", h.Dispute.Escalate)
			}
		}
	}

	return engine
}
