// Package main is the entry point for the magick feature-flag engine
// server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"magick/internal/admin"
	"magick/internal/breaker"
	"magick/internal/config"
	"magick/internal/engine"
	"magick/internal/metrics"
	"magick/internal/storage"
	"magick/internal/storage/durable"
	"magick/internal/storage/local"
	"magick/internal/storage/remote"
	"magick/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.AppEnv == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting magick feature-flag engine")

	// --- Durable tier (C3) ---
	pool, err := durable.NewPool(ctx, durable.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	durableStore := durable.NewStore(pool)
	if err := durableStore.EnsureSchema(ctx); err != nil {
		log.Fatalw("failed to ensure schema", "error", err)
	}
	log.Info("durable store ready")

	// --- Remote tier (C2), optional ---
	var remoteStore *remote.Store
	if cfg.RedisEnabled {
		remoteStore = remote.New(remote.Config{
			Endpoint:   cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Expiration: time.Hour,
			Timeout:    200 * time.Millisecond,
		})
		defer remoteStore.Close()
		log.Info("remote store enabled")
	} else {
		log.Info("remote store disabled, falling through to durable only")
	}

	// --- Local tier (C1) ---
	localStore := local.New(cfg.LocalCacheTTL)

	// --- Circuit breaker (C4) ---
	cb := breaker.New(breaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		OpenTimeout:      cfg.CircuitBreakerOpenTimeout,
	})

	// --- Storage registry (C5) ---
	registry := storage.New(localStore, remoteStore, durableStore, cb, storage.Config{
		InvalidationDebounce: cfg.InvalidationDebounce,
	})

	// --- Metrics pipeline (C8) ---
	var metricsPipeline *metrics.Pipeline
	if remoteStore != nil {
		metricsPipeline = metrics.New(remoteStore, cfg.MetricsFlushInterval)
		go metricsPipeline.Run(ctx)
		defer metricsPipeline.Stop()
	}

	// --- Engine facade (C9) ---
	eng := engine.New(engine.Config{Store: registry, Metrics: metricsPipeline})
	registry.SetReloader(eng)

	if err := eng.Reload(ctx); err != nil {
		log.Warnw("initial reload from durable store failed", "error", err)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go registry.WatchInvalidations(watchCtx)

	// --- Admin HTTP facade ---
	router := admin.NewRouter(admin.RouterConfig{Engine: eng, Logger: log})

	server := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.AppPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
