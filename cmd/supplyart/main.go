package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/app"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/audit"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/auth"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/dashboard"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/observability"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/cache"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/db"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/purchase"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/request"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/transit"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/users"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/jobs"
)

func main() {
	_ = godotenv.Load()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	sessionManager := shared.NewSessionManager(redisClient, "supplyart_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	// Stock-changing events double as scan triggers so alerts keep up with
	// the ledgers between cron runs.
	publisher := jobs.NewScanEnqueuer(events.NewRedisPublisher(redisClient, logger), jobsClient, logger)

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	rbacMW := rbac.Middleware{Logger: logger}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	usersService := users.NewService(users.NewRepository(pool), auditLogger, logger, cfg.BcryptCost)
	usersHandler := users.NewHandler(logger, usersService, &rbacMW)

	catalogService := catalog.NewService(catalog.NewRepository(pool), auditLogger, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService, &rbacMW)

	stockService := stock.NewService(stock.NewRepository(pool), publisher, auditLogger, metrics, logger)
	stockHandler := stock.NewHandler(logger, stockService, &rbacMW)

	movementService := movement.NewService(movement.NewRepository(pool), metrics, logger)
	movementHandler := movement.NewHandler(logger, movementService, &rbacMW)

	transitService := transit.NewService(transit.NewRepository(pool), catalogService, publisher, auditLogger, metrics, logger)
	transitHandler := transit.NewHandler(logger, transitService, &rbacMW)

	requestService := request.NewService(request.NewRepository(pool), catalogService, stockService, publisher, auditLogger, metrics, logger)
	requestHandler := request.NewHandler(logger, requestService, &rbacMW)

	purchaseService := purchase.NewService(purchase.NewRepository(pool), catalogService, publisher, auditLogger, metrics, logger)
	purchaseHandler := purchase.NewHandler(logger, purchaseService, &rbacMW)

	auditService := audit.NewService(audit.NewRepository(pool), logger)
	auditHandler := audit.NewHandler(logger, auditService, &rbacMW)

	dashboardService := dashboard.NewService(dashboard.NewRepository(pool), stockService)
	dashboardHandler := dashboard.NewHandler(logger, dashboardService, &rbacMW)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Actors:         authService,
		Idempotency:    idempotencyStore,

		AuthHandler:      authHandler,
		UsersHandler:     usersHandler,
		CatalogHandler:   catalogHandler,
		StockHandler:     stockHandler,
		MovementHandler:  movementHandler,
		TransitHandler:   transitHandler,
		RequestHandler:   requestHandler,
		PurchaseHandler:  purchaseHandler,
		AuditHandler:     auditHandler,
		DashboardHandler: dashboardHandler,
		JobsHandler:      jobsHandler,

		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
