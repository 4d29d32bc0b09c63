// Package main is the entry point for the opscore updater sidecar: the
// blue/green update executor and its REST control API (C8-C9).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zetherion-ai/opscore/internal/audit/storefactory"
	"github.com/zetherion-ai/opscore/internal/config"
	"github.com/zetherion-ai/opscore/internal/healthcheck"
	"github.com/zetherion-ai/opscore/internal/procrunner"
	"github.com/zetherion-ai/opscore/internal/telemetry"
	"github.com/zetherion-ai/opscore/internal/updater"
	updaterapi "github.com/zetherion-ai/opscore/internal/updater/api"
)

const (
	serviceName    = "opscore-updater"
	serviceVersion = "0.1.0"
)

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	var showHelp = flag.Bool("help", false, "Show help information")
	var configPath = flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("opscore updater - blue/green update executor and control API\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config string   Path to a YAML config file\n")
		fmt.Printf("  -version         Show version information\n")
		fmt.Printf("  -help            Show this help message\n\n")
		fmt.Printf("Environment variables are read with the OPSCORE_ prefix, e.g.\n")
		fmt.Printf("OPSCORE_UPDATER_PROJECT_DIR, OPSCORE_REDIS_ENABLED.\n")
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting opscore updater", "service", serviceName, "version", serviceVersion, "profile", cfg.Profile)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := storefactory.Open(startupCtx, *cfg, logger)
	cancelStartup()
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	secret, err := updaterapi.GetOrCreateSecret(cfg.Updater.SecretPath)
	if err != nil {
		logger.Error("failed to provision control API secret", "error", err)
		os.Exit(1)
	}

	lock := buildLock(cfg.Redis, logger)

	runner := procrunner.New(cfg.Updater.ProjectDir, logger)
	prober := healthcheck.New(logger)

	executor := updater.New(updater.Config{
		ProjectDir:      cfg.Updater.ProjectDir,
		ComposeFile:     cfg.Updater.ComposeFile,
		StatePath:       cfg.Updater.StatePath,
		RouteConfigPath: cfg.Updater.RouteConfigPath,
		PauseOnFailure:  cfg.Updater.PauseOnFailure,
	}, runner, prober, store, logger, lock)

	server := updaterapi.NewServer(executor, updaterapi.Config{
		Secret:         secret,
		HistoryLimit:   100,
		RequestTimeout: cfg.Updater.CommandTimeout,
	}, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("updater control api starting", "addr", httpServer.Addr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("updater control api failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down updater")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("updater control api forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("updater exited")
}

// buildLock picks a distributed redis-backed apply lock when enabled,
// falling back to the in-process lock New() would otherwise default to —
// built explicitly here so the redis client's lifecycle is owned by main.
func buildLock(cfg config.RedisConfig, logger *slog.Logger) updater.Lock {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	logger.Info("using redis-backed distributed apply lock", "addr", cfg.Addr)
	return updater.NewRedisLock(client, "opscore:updater:apply-lock", cfg.LockTTL)
}
