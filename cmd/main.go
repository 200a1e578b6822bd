package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chapterhub/chapterhub-backend/internal/clients/redis"
	"github.com/chapterhub/chapterhub-backend/internal/db"
	"github.com/chapterhub/chapterhub-backend/internal/handlers"
	"github.com/chapterhub/chapterhub-backend/internal/middleware"
	"github.com/chapterhub/chapterhub-backend/internal/observability"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/server"
	"github.com/chapterhub/chapterhub-backend/internal/services"
	"github.com/chapterhub/chapterhub-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "chapterhub-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Event bus (optional; notifications degrade to no-ops without it)
	eventBus, err := redis.NewEventBus(log)
	if err != nil {
		log.Warn("Redis event bus unavailable, notifications disabled", "error", err)
		eventBus = nil
	}

	// Repos
	log.Info("Setting up repos from main...")
	uploadRepo := repos.NewContentUploadRepo(thePG, log)
	quotaRepo := repos.NewContentQuotaRepo(thePG, log)
	jobRepo := repos.NewTranscodeJobRepo(thePG, log)
	flagRepo := repos.NewFlaggedContentRepo(thePG, log)
	auditRepo := repos.NewAuditLogRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	transcoderClient, err := services.NewTranscoderClient(log)
	if err != nil {
		log.Error("Could not init TranscoderClient", "error", err)
		os.Exit(1)
	}
	notifier := services.NewUploadNotifier(log, eventBus)
	quotaService := services.NewQuotaService(thePG, log, quotaRepo)
	uploadService := services.NewUploadService(thePG, log, uploadRepo, flagRepo, jobRepo, quotaService, bucketService)
	moderationService := services.NewModerationService(log, flagRepo, uploadRepo, auditRepo, notifier)
	queueService := services.NewTranscodeQueueService(
		thePG,
		log,
		services.DefaultQueueConfig(log),
		jobRepo,
		uploadRepo,
		transcoderClient,
		notifier,
	)
	queueService.Start(ctx)

	// Handlers
	log.Info("Setting up handlers from main...")
	uploadHandler := handlers.NewUploadHandler(log, uploadService)
	moderationHandler := handlers.NewModerationHandler(log, moderationService)
	queueHandler := handlers.NewQueueHandler(log, queueService)
	quotaHandler := handlers.NewQuotaHandler(log, quotaService)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:               log,
		AuthMiddleware:    authMiddleware,
		UploadHandler:     uploadHandler,
		ModerationHandler: moderationHandler,
		QueueHandler:      queueHandler,
		QuotaHandler:      quotaHandler,
		Tracing:           observability.Enabled(),
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown failed", "error", err)
	}
	queueService.Stop()
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Warn("Event bus close failed", "error", err)
		}
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}
}
