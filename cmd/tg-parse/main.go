// Package main is the entry point for tg-parse.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aalis/tg-parse/internal/config"
	"github.com/Aalis/tg-parse/internal/logger"
	"github.com/Aalis/tg-parse/internal/metrics"
	"github.com/Aalis/tg-parse/internal/pool"
	"github.com/Aalis/tg-parse/internal/telegram"
)

// Version information set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Parse configuration
	cfg, err := config.ParseFlags()
	if err != nil {
		logger.Error("failed to parse configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("tg-parse starting",
		"version", version,
		"commit", commit,
		"date", date,
		"credentials", len(cfg.Tokens),
		"metrics_port", cfg.MetricsPort,
	)

	// Build the credential pool over Bot API sessions
	dialer := telegram.NewDialer(telegram.Options{
		BaseURL:        cfg.APIBaseURL,
		RequestTimeout: cfg.RequestTimeout,
		RatePerSecond:  cfg.RatePerSecond,
		RateBurst:      cfg.RateBurst,
		RetryAttempts:  cfg.RetryAttempts,
	})
	credPool, err := pool.New(pool.Config{
		Secrets: cfg.Tokens,
		Dialer: pool.DialerFunc(func(ctx context.Context, secret string) (pool.Conn, error) {
			return dialer.Dial(ctx, secret)
		}),
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		StalenessCap:     cfg.StalenessCap,
	})
	if err != nil {
		logger.Error("failed to create credential pool", "error", err)
		os.Exit(1)
	}

	// Establish sessions. Per-credential failures are absorbed; the pool
	// serves whatever came up.
	dialCtx, cancelDial := context.WithTimeout(context.Background(), cfg.DialTimeout)
	credPool.Dial(dialCtx)
	cancelDial()

	metricsServer := metrics.NewServer(cfg.MetricsPort, func() any {
		return credPool.Status()
	})

	// Set up config watcher if config file is specified
	var cfgWatcher *config.ConfigWatcher
	if cfg.ConfigFile != "" {
		var watcherErr error
		cfgWatcher, watcherErr = config.NewConfigWatcher(cfg.ConfigFile, cfg)
		if watcherErr != nil {
			logger.Error("failed to create config watcher", "error", watcherErr)
		} else {
			cfgWatcher.RegisterCallback(func(newCfg *config.Config) {
				logger.Reconfigure(newCfg.LogLevel, newCfg.LogFormat)
				credPool.UpdateHealthConfig(newCfg.FailureThreshold, newCfg.Cooldown, newCfg.StalenessCap)
			})

			if startErr := cfgWatcher.Start(); startErr != nil {
				logger.Error("failed to start config watcher", "error", startErr)
			}
		}
	}

	// Start metrics server
	go func() {
		logger.Info("starting metrics server", "port", cfg.MetricsPort)
		metricsServer.SetReady(true)
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Wait for signals
	for {
		sig := <-sigCh

		// Handle SIGHUP for manual config reload
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading configuration")
			if cfgWatcher != nil {
				if reloadErr := cfgWatcher.Reload(); reloadErr != nil {
					logger.Error("config reload failed", "error", reloadErr)
				}
			} else {
				logger.Warn("config reload requested but no config file specified")
			}
			continue
		}

		// SIGINT or SIGTERM - shutdown
		logger.Info("received shutdown signal", "signal", sig)
		break
	}

	// Graceful shutdown
	if cfgWatcher != nil {
		cfgWatcher.Stop()
	}

	metricsServer.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	credPool.CloseAll()

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("tg-parse stopped")
}
