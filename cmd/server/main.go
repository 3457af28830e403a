// Package main runs the registration payments HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hackportal/backend/config"
	"github.com/hackportal/backend/internal/auth"
	"github.com/hackportal/backend/internal/gateway"
	"github.com/hackportal/backend/internal/middleware"
	"github.com/hackportal/backend/internal/models"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/internal/reconcile"
	"github.com/hackportal/backend/internal/teams"
	"github.com/hackportal/backend/internal/webhooks"
	"github.com/hackportal/backend/pkg/awscfg"
	"github.com/hackportal/backend/pkg/database"
	"github.com/hackportal/backend/pkg/queue"
	"github.com/hackportal/backend/pkg/redis"
	"github.com/hackportal/backend/pkg/response"
	"github.com/hackportal/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.WebhookSecret() == "" {
		logger.Warn("webhook secret not configured; every webhook will be rejected")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.Webhook.Archive && cfg.AWS.Region != "" {
		awsCfg, err := awscfg.Load(ctx, awscfg.Options{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Endpoint:        cfg.AWS.Endpoint,
		}, logger)
		if err != nil {
			logger.Warn("aws config failed; webhook archive disabled", zap.Error(err))
		} else {
			s3Client, err = storage.NewS3(awsCfg, storage.S3Config{
				Bucket:               cfg.AWS.ArchiveBucket,
				PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
				UsePathStyle:         cfg.AWS.Endpoint != "",
			}, logger)
			if err != nil {
				logger.Warn("s3 disabled", zap.Error(err))
			}
		}
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		logger.Fatal("payment gateway", zap.Error(err))
	}
	logger.Info("payment gateway configured", zap.String("gateway", gw.Name()))

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.Audience)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Payments
	paymentRepo := payments.NewRepository(pool)
	teamRepo := teams.NewRepository(pool)
	settler := payments.NewSettler(paymentRepo, teams.NewProjector(teamRepo, logger), payments.NewQueueNotifier(jobQueue), logger)
	paymentService := payments.NewService(paymentRepo, teamRepo, gw, settler, payments.Options{
		DefaultCurrency: cfg.Payments.DefaultCurrency,
		ReuseWindow:     cfg.Payments.ReuseWindow,
	}, logger)
	paymentHandler := payments.NewHandler(paymentService, logger)
	orderLimiter := middleware.NewRateLimiter(cfg.Payments.OrderRateLimit, cfg.Payments.OrderRateLimit)

	// Webhooks
	webhookRepo := webhooks.NewRepository(pool)
	webhookOpts := webhooks.Options{
		Secret:       cfg.WebhookSecret(),
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Dedupe:       webhooks.NewRedisDeduper(rdb.Client, cfg.Webhook.DedupeTTL).WithClaimTTL(cfg.Webhook.ClaimTTL),
		Events:       webhookRepo,
	}
	var presigner webhooks.Presigner
	if s3Client != nil {
		webhookOpts.Archive = s3Client
		presigner = s3Client
	}
	webhookHandler := webhooks.NewHandler(webhooks.NewRouter(settler, logger), webhookOpts, logger)
	webhookAdmin := webhooks.NewAdminHandler(webhookRepo, presigner, logger)

	// Reconciliation (on demand; the worker runs it on a schedule)
	sweeper := reconcile.NewSweeper(paymentRepo, settler, gw, reconcile.Options{
		Interval:     cfg.Reconcile.Interval,
		StaleAfter:   cfg.Reconcile.StaleAfter,
		AbandonAfter: cfg.Reconcile.AbandonAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
	}, logger)
	reconcileHandler := reconcile.NewHandler(sweeper, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins, "/webhooks/"))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Healthy(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Gateway webhooks (no JWT; the handler verifies the signature over the raw body)
	router.Any("/webhooks/payments", webhookHandler.Receive)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/payments/orders", middleware.RateLimit(orderLimiter), paymentHandler.CreateOrder)
		api.POST("/payments/orders/:orderId/session", paymentHandler.CreateSession)
		api.POST("/payments/verify", paymentHandler.Verify)
		api.GET("/payments/:id", paymentHandler.Get)
		api.GET("/teams/:id/payments", paymentHandler.ListByTeam)

		admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
		admin.POST("/payments/reconcile", reconcileHandler.Run)
		admin.GET("/webhooks/:id/raw", webhookAdmin.RawURL)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
