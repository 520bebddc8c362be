package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/dayline-app/dayline-api/api/swagger"
	"github.com/dayline-app/dayline-api/internal/handler"
	"github.com/dayline-app/dayline-api/internal/middleware"
	"github.com/dayline-app/dayline-api/internal/models"
	"github.com/dayline-app/dayline-api/internal/repository"
	"github.com/dayline-app/dayline-api/internal/service"
	"github.com/dayline-app/dayline-api/internal/upload"
	"github.com/dayline-app/dayline-api/pkg/cache"
	"github.com/dayline-app/dayline-api/pkg/config"
	"github.com/dayline-app/dayline-api/pkg/database"
	"github.com/dayline-app/dayline-api/pkg/jobs"
	"github.com/dayline-app/dayline-api/pkg/logger"
	corsmiddleware "github.com/dayline-app/dayline-api/pkg/middleware/cors"
	reqidmiddleware "github.com/dayline-app/dayline-api/pkg/middleware/requestid"
	"github.com/dayline-app/dayline-api/pkg/storage"
)

// @title Dayline API
// @version 0.1.0
// @description Daily task board with media attachments and async exports
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, url caching disabled", "error", err)
		redisClient = nil
	}

	taskRepo := repository.NewTaskRepository(db)
	userRepo := repository.NewUserRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	var issuer upload.CredentialIssuer
	var blobStore *storage.LocalStorage
	if cfg.Storage.Backend == "s3" {
		presigner, err := storage.NewS3Presigner(ctx, cfg.Storage)
		if err != nil {
			logr.Sugar().Fatalw("failed to init s3 presigner", "error", err)
		}
		issuer = upload.NewS3Issuer(presigner)
	} else {
		blobStore, err = storage.NewLocalStorage(cfg.Storage.LocalDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init local blob store", "error", err)
		}
		issuer = upload.NewLocalIssuer(signer, cfg.Storage.LocalBaseURL)
	}

	metricsSvc := service.NewMetricsService()

	compressor := upload.NewCompressor(cfg.Uploads.CompressTargetSize, logr)
	transferrer := upload.NewTransferrer(issuer, cfg.Uploads.TransferTimeout, logr)
	transferrer.SetObserver(metricsSvc.ObserveTransfer)
	registry := upload.NewRegistry(cfg.Uploads.SessionTTL, logr)
	go sweepSessions(ctx, registry, metricsSvc, cfg.Uploads.SessionTTL)

	validate := validator.New()
	authSvc := service.NewAuthService(logr, service.AuthConfig{Secret: cfg.JWT.Secret})
	taskSvc := service.NewTaskService(taskRepo, userRepo, artifactRepo, validate, logr)
	mediaSvc := service.NewMediaService(artifactRepo, taskRepo, feedbackRepo, userRepo, cacheRepo,
		issuer, registry, compressor, transferrer, validate, logr, cfg.Uploads)

	taskHandler := handler.NewTaskHandler(taskSvc)
	mediaHandler := handler.NewMediaHandler(mediaSvc, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	if blobStore != nil {
		blobHandler := handler.NewBlobHandler(signer, blobStore)
		api.PUT("/blobs/*key", blobHandler.Put)
		api.GET("/blobs/*key", blobHandler.Get)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	tasks := authed.Group("/tasks")
	{
		tasks.POST("", taskHandler.Create)
		tasks.GET("/incomplete", taskHandler.ListIncomplete)
		tasks.GET("/:id", taskHandler.Get)
		tasks.PATCH("/:id", taskHandler.Update)
		tasks.DELETE("/:id", taskHandler.Delete)
		tasks.PATCH("/:id/progress", taskHandler.SetProgress)
		tasks.POST("/:id/continue", taskHandler.Continue)
	}

	// Observers are read-only: mutating media routes are gated at the edge,
	// reads stay open to all three roles.
	canWrite := middleware.RequireRoles(models.RoleStaff, models.RoleManager)

	media := authed.Group("/media")
	{
		media.POST("/credentials", canWrite, mediaHandler.IssueCredential)
		media.PATCH("/:id/caption", canWrite, mediaHandler.SetCaption)
		media.GET("/:id/url", mediaHandler.ResolveURL)
	}

	records := authed.Group("/records/:type/:id")
	{
		records.POST("/media", canWrite, mediaHandler.Attach)
		records.GET("/media", mediaHandler.List)
		records.DELETE("/media/:artifactId", canWrite, mediaHandler.Detach)
		records.POST("/uploads", canWrite, mediaHandler.StartSession)
	}

	uploads := authed.Group("/uploads")
	{
		uploads.GET("/:id", mediaHandler.SessionStatus)
		uploads.DELETE("/:id", canWrite, mediaHandler.CancelSession)
	}

	var reportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		reportQueue = wireReports(ctx, api, authed, db, taskRepo, cfg, logr)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	if reportQueue != nil {
		reportQueue.Stop()
	}
}

// wireReports boots the export pipeline: repository, renderer, worker queue,
// recovery of jobs left queued by a previous process, and periodic cleanup.
func wireReports(ctx context.Context, api, authed *gin.RouterGroup, db *sqlx.DB, taskRepo *repository.TaskRepository, cfg *config.Config, logr *zap.Logger) *jobs.Queue {
	exportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err)
	}
	reportSigner := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(taskRepo, exportStore, reportSigner, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, nil, nil)

	reportRepo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 5 * time.Second,
	})
	queue.Start(ctx)

	reportSvc := service.NewReportService(reportRepo, queue, exportSvc, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	reportHandler := handler.NewReportHandler(reportSvc)
	reports := authed.Group("/reports")
	{
		reports.POST("", reportHandler.Create)
		reports.GET("/:id", reportHandler.Status)
	}
	// Downloads authenticate via the signed token, not a bearer token, so the
	// route sits outside the JWT group.
	api.GET("/reports/download/:token", reportHandler.Download)

	return queue
}

// sweepSessions drops settled upload sessions past their retention window and
// keeps the active-session gauge current.
func sweepSessions(ctx context.Context, registry *upload.Registry, metrics *service.MetricsService, ttl time.Duration) {
	interval := ttl / 2
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Sweep()
			metrics.SetActiveSessions(registry.Len())
		}
	}
}
