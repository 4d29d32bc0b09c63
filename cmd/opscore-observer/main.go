// Package main is the entry point for the opscore observer process: the
// heartbeat-driven loop that collects health snapshots, runs anomaly
// analysis, dispatches self-healing, and answers status queries (C1-C7).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zetherion-ai/opscore/internal/audit/storefactory"
	"github.com/zetherion-ai/opscore/internal/config"
	"github.com/zetherion-ai/opscore/internal/healer"
	"github.com/zetherion-ai/opscore/internal/metrics"
	"github.com/zetherion-ai/opscore/internal/observer"
	"github.com/zetherion-ai/opscore/internal/telemetry"
)

const (
	serviceName    = "opscore-observer"
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
		fmt.Printf("opscore observer - heartbeat-driven health loop\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config string   Path to a YAML config file\n")
		fmt.Printf("  -version         Show version information\n")
		fmt.Printf("  -help            Show this help message\n\n")
		fmt.Printf("Environment variables are read with the OPSCORE_ prefix, e.g.\n")
		fmt.Printf("OPSCORE_OBSERVER_HEARTBEAT_INTERVAL, OPSCORE_STORAGE_BACKEND.\n")
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting opscore observer", "service", serviceName, "version", serviceVersion, "profile", cfg.Profile)

	ctx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := storefactory.Open(ctx, *cfg, logger)
	cancelStartup()
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Sources are left at their zero value here: a standalone observer
	// binary has no in-process cost tracker, heartbeat stats, or skill
	// registry to read from. Collector degrades every field to zero when
	// nil (see internal/metrics), so this still produces a valid, if
	// mostly-empty, snapshot. A host process embedding this package
	// directly would supply real Sources instead of running this binary.
	collector := metrics.New(metrics.Sources{}, logger)

	healerInst := healer.New(store, logger,
		healer.WithEnabled(cfg.Healer.Enabled),
		healer.WithCooldown(cfg.Healer.CooldownSeconds),
		healer.WithOllamaBaseURL(cfg.Healer.OllamaBaseURL),
	)

	obs := observer.New(collector, store, healerInst, logger)

	procMetrics := telemetry.NewProcessMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status, statusErr := obs.Handle(r.Context(), "system_status")
		if statusErr != nil {
			http.Error(w, statusErr.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, telemetry.Handler())
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	runCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()

	go func() {
		logger.Info("observer http server starting", "addr", httpServer.Addr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("observer http server failed", "error", serveErr)
		}
	}()

	go runHeartbeatLoop(runCtx, obs, cfg.Observer, procMetrics, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down observer")
	stopHeartbeat()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("observer http server forced to shutdown", "error", err)
	}
	logger.Info("observer exited")
}

// runHeartbeatLoop ticks at cfg.HeartbeatInterval, calling OnHeartbeat once
// per tick. A production deployment embedding the observer package directly
// would instead be driven by the host process's own scheduler; this ticker
// only exists so the binary is independently runnable.
func runHeartbeatLoop(ctx context.Context, obs *observer.Observer, cfg config.ObserverConfig, procMetrics *telemetry.ProcessMetrics, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, cfg.HeartbeatInterval)
			actions := obs.OnHeartbeat(tickCtx, cfg.AlertOwnerIDs)
			cancel()

			procMetrics.HeartbeatsTotal.Inc()
			if len(actions) > 0 {
				logger.Warn("heartbeat produced alert actions", "count", len(actions), "beat", obs.BeatCount())
			}
		}
	}
}
