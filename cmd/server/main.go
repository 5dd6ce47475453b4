package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/tweetwall/internal/config"
	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/blackmichael/tweetwall/internal/events"
	"github.com/blackmichael/tweetwall/internal/httpserver"
	"github.com/blackmichael/tweetwall/internal/metrics"
	"github.com/blackmichael/tweetwall/internal/redisstore"
	"github.com/blackmichael/tweetwall/internal/registry"
	"github.com/blackmichael/tweetwall/internal/sqlitestore"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	bus := events.NewBus(store, registry.UpdatesChannel, logger, m)
	reg := registry.New(store, bus, logger, m, cfg.Retention)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Background retention sweep
	go reg.StartCleanupJob(ctx, cfg.CleanupInterval)

	server := httpserver.NewServer(cfg, reg, bus, logger, m)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (domain.Store, error) {
	if cfg.RedisURL != "" {
		store, err := redisstore.New(cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis store")
		return store, nil
	}

	store, err := sqlitestore.New(cfg.SQLitePath, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("using embedded sqlite store", "path", cfg.SQLitePath)
	return store, nil
}
