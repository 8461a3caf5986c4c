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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomcart/loomcart/internal/app"
	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/catalog"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/observability"
	"github.com/loomcart/loomcart/internal/platform/cache"
	"github.com/loomcart/loomcart/internal/platform/db"
	"github.com/loomcart/loomcart/internal/purchases"
	"github.com/loomcart/loomcart/internal/shared"
	"github.com/loomcart/loomcart/internal/transfers"
	"github.com/loomcart/loomcart/jobs"
)

// poolSequences adapts the counter service to the barcode serial port.
// Serials may burn on failed attempts; codes only need uniqueness, not
// gaplessness.
type poolSequences struct {
	pool *pgxpool.Pool
	seq  *shared.Sequences
}

func (p poolSequences) Next(ctx context.Context, key string) (int64, error) {
	return p.seq.Next(ctx, p.pool, key)
}

func main() {
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	sequences := shared.NewSequences()
	catalogLookup := catalog.NewLookup(dbpool)
	reportCache := ledger.NewReportCache(redisClient, cfg.ReportCacheTTL)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, catalogLookup, reportCache)

	costDefaultsRepo := costdefaults.NewRepository(dbpool)
	costDefaultsService := costdefaults.NewService(costDefaultsRepo, auditLogger)

	barcodesRepo := barcodes.NewRepository(dbpool)
	barcodesService := barcodes.NewService(barcodesRepo, catalogLookup, costDefaultsService,
		poolSequences{pool: dbpool, seq: sequences}, auditLogger)

	purchasesRepo := purchases.NewRepository(dbpool, sequences)
	purchasesService := purchases.NewService(purchasesRepo, costDefaultsService, auditLogger,
		idempotencyStore, catalogLookup, reportCache)

	transfersRepo := transfers.NewRepository(dbpool)
	transfersService := transfers.NewService(transfersRepo, auditLogger, idempotencyStore,
		catalogLookup, reportCache)

	metrics := observability.NewMetrics()

	stocksHandler := ledger.NewHandler(logger, ledgerService)
	purchasesHandler := purchases.NewHandler(logger, purchasesService)
	transfersHandler := transfers.NewHandler(logger, transfersService)
	barcodesHandler := barcodes.NewHandler(logger, barcodesService)
	costDefaultsHandler := costdefaults.NewHandler(logger, costDefaultsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		StocksHandler:       stocksHandler,
		PurchasesHandler:    purchasesHandler,
		TransfersHandler:    transfersHandler,
		BarcodesHandler:     barcodesHandler,
		CostDefaultsHandler: costDefaultsHandler,
		JobHandler:          jobHandler,
		Metrics:             metrics,
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
