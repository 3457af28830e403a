// Package main runs the background worker: payment notification delivery and the reconciliation sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hackportal/backend/config"
	"github.com/hackportal/backend/internal/gateway"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/internal/reconcile"
	"github.com/hackportal/backend/internal/teams"
	"github.com/hackportal/backend/internal/worker"
	"github.com/hackportal/backend/pkg/awscfg"
	"github.com/hackportal/backend/pkg/database"
	"github.com/hackportal/backend/pkg/notify"
	"github.com/hackportal/backend/pkg/queue"
	"github.com/hackportal/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var publisher notify.Publisher = notify.NewLog(logger)
	if cfg.AWS.PaymentEventsTopic != "" {
		awsCfg, err := awscfg.Load(ctx, awscfg.Options{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Endpoint:        cfg.AWS.Endpoint,
		}, logger)
		if err != nil {
			logger.Fatal("aws config", zap.Error(err))
		}
		publisher = notify.NewSNS(awsCfg, cfg.AWS.PaymentEventsTopic, logger)
		logger.Info("publishing payment events to SNS", zap.String("topic", cfg.AWS.PaymentEventsTopic))
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		logger.Fatal("payment gateway", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	paymentRepo := payments.NewRepository(pool)
	settler := payments.NewSettler(paymentRepo, teams.NewProjector(teams.NewRepository(pool), logger),
		payments.NewQueueNotifier(jobQueue), logger)

	processor := worker.NewNotificationProcessor(jobQueue, publisher, logger)
	sweeper := reconcile.NewSweeper(paymentRepo, settler, gw, reconcile.Options{
		Interval:     cfg.Reconcile.Interval,
		StaleAfter:   cfg.Reconcile.StaleAfter,
		AbandonAfter: cfg.Reconcile.AbandonAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go sweeper.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
