package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/echotrack/attribution/internal/config"
	"github.com/echotrack/attribution/internal/database"
	"github.com/echotrack/attribution/internal/geo"
	"github.com/echotrack/attribution/internal/httpserver"
	"github.com/echotrack/attribution/internal/metrics"
	"github.com/echotrack/attribution/internal/middleware"
	"github.com/echotrack/attribution/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting EchoTrack attribution service",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Try to connect to PostgreSQL
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		if err := storage.EnsureSchema(ctx, db.Pool); err != nil {
			logger.Fatal("failed to ensure schema", zap.Error(err))
		}
	}

	// Try to connect to Redis
	redis, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, daily counters disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
	}

	// Try to connect to ClickHouse for the raw event log
	var clickhouse *database.ClickHouseDB
	if cfg.ClickHouse.Enabled {
		clickhouse, err = database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, event log disabled", zap.Error(err))
			clickhouse = nil
		} else {
			defer clickhouse.Close()
			if err := storage.EnsureEventSchema(ctx, clickhouse.Conn); err != nil {
				logger.Warn("failed to ensure event schema, event log disabled", zap.Error(err))
				clickhouse = nil
			}
		}
	}

	// GeoIP enrichment
	var geoResolver *geo.Resolver
	if cfg.Geo.Enabled {
		geoResolver, err = geo.NewResolver(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("geo database not available, enrichment disabled", zap.Error(err))
			geoResolver = nil
		} else {
			defer geoResolver.Close()
			logger.Info("geo enrichment enabled", zap.String("path", cfg.Geo.DatabasePath))
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("echotrack")
	}

	// Create HTTP server
	deps := &httpserver.Dependencies{
		DB:         db,
		Redis:      redis,
		ClickHouse: clickhouse,
		Geo:        geoResolver,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
	}

	handler := httpserver.NewServer(deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
