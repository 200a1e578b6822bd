package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chapterhub/chapterhub-backend/internal/handlers"
	"github.com/chapterhub/chapterhub-backend/internal/middleware"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/utils"
)

type RouterConfig struct {
	Log               *logger.Logger
	AuthMiddleware    *middleware.AuthMiddleware
	UploadHandler     *handlers.UploadHandler
	ModerationHandler *handlers.ModerationHandler
	QueueHandler      *handlers.QueueHandler
	QuotaHandler      *handlers.QuotaHandler
	Tracing           bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing {
		router.Use(otelgin.Middleware("chapterhub-backend"))
	}

	origins := strings.Split(utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000", cfg.Log), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	// Uploads
	api.POST("/uploads", cfg.UploadHandler.Submit)
	api.GET("/uploads", cfg.UploadHandler.List)
	api.GET("/uploads/:id", cfg.UploadHandler.Get)
	api.POST("/uploads/:id/transcode", cfg.UploadHandler.Retranscode)
	// Transcode queue
	api.GET("/transcode/jobs/:id", cfg.QueueHandler.GetJob)
	api.GET("/transcode/stats", cfg.QueueHandler.Stats)
	// Moderation
	api.GET("/moderation/queue", cfg.ModerationHandler.ListPending)
	api.POST("/moderation/items/:id/resolve", cfg.ModerationHandler.Resolve)
	api.POST("/moderation/items/bulk-resolve", cfg.ModerationHandler.BulkResolve)
	api.GET("/moderation/stats", cfg.ModerationHandler.Stats)
	// Quota
	api.GET("/chapters/:id/quota", cfg.QuotaHandler.Inspect)

	return router
}
