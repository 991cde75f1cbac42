package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mercadex/matchcore/internal/config"
	"github.com/mercadex/matchcore/internal/engine"
	"github.com/mercadex/matchcore/internal/httpapi"
	"github.com/mercadex/matchcore/internal/ledger"
	"github.com/mercadex/matchcore/internal/outbox"
	"github.com/mercadex/matchcore/internal/recovery"
	"github.com/mercadex/matchcore/internal/router"
	"github.com/mercadex/matchcore/internal/sequencer"
	"github.com/mercadex/matchcore/internal/settlement"
	"github.com/mercadex/matchcore/internal/store"
	pkglogger "github.com/mercadex/matchcore/pkg/logger"
	"github.com/mercadex/matchcore/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := pkglogger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(cfg.Symbols) == 0 {
		logger.Fatal("no symbols configured; set SYMBOLS to a comma-separated list")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to obtain sql.DB", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeSecs) * time.Second)

	if err := db.AutoMigrate(store.AllModels()...); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	// Stores.
	orderStore := store.NewOrderStore()
	tradeStore := store.NewTradeStore()
	ledgerStore := ledger.NewStore()
	seqStore := sequencer.NewStore()
	outboxStore := outbox.NewStore()
	settler := settlement.NewSettler(ledgerStore, orderStore, tradeStore, outboxStore)

	engineCfg := engine.Config{
		QueueCapacity:      cfg.PerSymbolQueueCapacity,
		MaxRetries:         cfg.DBMaxRetries,
		RetryBaseMS:        cfg.DBRetryBaseMS,
		RetryMaxMS:         cfg.DBRetryMaxMS,
		SlippageCushionNum: int64(cfg.SlippageCushion*100 + 0.5),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines, err := recovery.Rebuild(ctx, cfg.Symbols, db, seqStore, ledgerStore, orderStore, outboxStore, settler, engineCfg, logger)
	if err != nil {
		logger.Fatal("failed to rebuild books", zap.Error(err))
	}

	rt := router.New(engines, db, orderStore)

	for _, eng := range engines {
		go eng.Run(ctx)
	}

	scheduler := engine.NewExpiryScheduler(
		time.Duration(cfg.ExpirationTickSeconds)*time.Second,
		256,
		db,
		orderStore,
		rt,
		logger,
	)
	scheduler.Start(ctx)

	dbStatsTicker := time.NewTicker(30 * time.Second)
	go func() {
		for range dbStatsTicker.C {
			stats := sqlDB.Stats()
			metrics.DBOpenConns.Set(float64(stats.OpenConnections))
			metrics.DBInUseConns.Set(float64(stats.InUse))
			metrics.DBIdleConns.Set(float64(stats.Idle))
		}
	}()

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics server starting", zap.Int("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HealthcheckPort),
		Handler: httpapi.NewHealthRouter(sqlDB, logger),
	}
	go func() {
		logger.Info("health server starting", zap.Int("port", cfg.HealthcheckPort))
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	logger.Info("matchcore started", zap.Strings("symbols", cfg.Symbols))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	dbStatsTicker.Stop()

	// Cancelling ctx stops every Engine's Run loop and the expiry scheduler.
	// In-flight transactions run to completion; only the consumer loops exit.
	cancel()

	logger.Info("matchcore stopped")
}
