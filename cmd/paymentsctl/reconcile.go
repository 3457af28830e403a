package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hackportal/backend/config"
	"github.com/hackportal/backend/internal/gateway"
	"github.com/hackportal/backend/internal/payments"
	"github.com/hackportal/backend/internal/reconcile"
	"github.com/hackportal/backend/internal/teams"
	"github.com/hackportal/backend/pkg/database"
	"github.com/hackportal/backend/pkg/queue"
	"github.com/hackportal/backend/pkg/redis"
)

func reconcileCmd() *cobra.Command {
	var (
		staleAfter time.Duration
		batch      int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep of stale pending payments",
		Long: `Checks pending and authorized payments older than the stale threshold against the gateway,
completing paid orders and failing closed or abandoned ones. Prints the sweep report as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if staleAfter > 0 {
				cfg.Reconcile.StaleAfter = staleAfter
			}
			if batch > 0 {
				cfg.Reconcile.BatchSize = batch
			}

			logger := newLogger()
			defer logger.Sync()
			ctx := cmd.Context()

			pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()

			rdb, err := redis.NewClient(ctx, redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, logger)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer rdb.Close()

			gw, err := gateway.New(cfg)
			if err != nil {
				return err
			}

			paymentRepo := payments.NewRepository(pool)
			settler := payments.NewSettler(paymentRepo, teams.NewProjector(teams.NewRepository(pool), logger),
				payments.NewQueueNotifier(queue.NewQueue(rdb.Client, logger)), logger)
			sweeper := reconcile.NewSweeper(paymentRepo, settler, gw, reconcile.Options{
				StaleAfter:   cfg.Reconcile.StaleAfter,
				AbandonAfter: cfg.Reconcile.AbandonAfter,
				BatchSize:    cfg.Reconcile.BatchSize,
			}, logger)

			report, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "override RECONCILE_STALE_AFTER")
	cmd.Flags().IntVarP(&batch, "batch", "n", 0, "override RECONCILE_BATCH_SIZE")
	return cmd
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	logger, _ := config.Build()
	return logger
}
