package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ipcmanview/core-go/internal/camera"
	"ipcmanview/core-go/internal/config"
	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/db"
	"ipcmanview/core-go/internal/httpapi"
	"ipcmanview/core-go/internal/metrics"
	"ipcmanview/core-go/internal/scan"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := httpapi.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Migrate(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	m := metrics.New()

	registry := camera.NewRegistry(logger, pool, dahuarpc.NewHTTPClient(time.Duration(cfg.RPCTimeout)), m)
	if err := registry.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load cameras")
	}

	scheduler := scan.New(logger, pool, registry, scan.Options{
		ChunkPeriod:       time.Duration(cfg.Scan.ChunkPeriod),
		CursorMargin:      time.Duration(cfg.Scan.CursorMargin),
		KeepCursorHistory: cfg.Scan.KeepCursorHistory,
	}, m)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scan scheduler")
	}

	h := httpapi.NewHandler(logger, pool, registry, scheduler, m)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("ipcmanview listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	scheduler.Stop()
	registry.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
