package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/app"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	jobmetrics "github.com/Tecnologia-odonto/SupplyArt-sub001/internal/jobs"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/observability"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/cache"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/db"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/jobs"
)

func main() {
	_ = godotenv.Load()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	taskMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	publisher := events.NewRedisPublisher(redisClient, logger)

	movementService := movement.NewService(movement.NewRepository(pool), metrics, logger)
	stockService := stock.NewService(stock.NewRepository(pool), publisher, shared.NewAuditLogger(pool), metrics, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	runLock := jobs.NewRunLock(redisClient, 10*time.Minute)
	reconcile := jobs.NewReconcileHandler(movementService, runLock, taskMetrics, logger)
	lowStock := jobs.NewLowStockHandler(stockService, publisher, runLock, taskMetrics, logger)
	cleanup := jobs.NewCleanupHandler(idempotencyStore, taskMetrics, logger)

	scanTask, err := jobs.NewLowStockScanTask(jobs.LowStockScanPayload{})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockReconcile, Handler: reconcile.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStock.Handle},
			{Type: jobs.TaskMaintenanceCleanup, Handler: cleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: jobs.NewStockReconcileTask()},
			{Spec: "30 * * * *", Task: scanTask},
			{Spec: "0 4 * * *", Task: jobs.NewMaintenanceCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
