// Command learnproxy is a reverse proxy that learns the shape of whatever
// it forwards to. In proxy mode it passes requests straight through to
// TARGET_URL while quietly recording schemas, latencies, and status
// histograms; in mock mode it answers from what it has learned instead of
// calling anything upstream. Drift in a learned shape, endpoint health, and
// chaos injection are all exposed over an admin HTTP/WebSocket surface.
//
// Usage:
//
//	TARGET_URL=https://api.example.com ./learnproxy
//	MODE=mock DB_PATH=learnproxy.db ./learnproxy
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learnproxy/internal/admin"
	"learnproxy/internal/behavior"
	"learnproxy/internal/broadcast"
	"learnproxy/internal/buffer"
	"learnproxy/internal/chaos"
	"learnproxy/internal/config"
	"learnproxy/internal/dispatch"
	"learnproxy/internal/health"
	"learnproxy/internal/logger"
	"learnproxy/internal/metrics"
	"learnproxy/internal/store"
)

func main() {
	cfg := config.Load()
	if cfg.DBPath == "" {
		cfg.DBPath = "learnproxy.db"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("MAIN", cfg.LogLevel)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Errorf("boot", "fatal storage error: %v", err)
		os.Exit(2)
	}
	defer st.Close()

	printBanner(cfg)

	m := metrics.New()
	behaviorStore := behavior.New(cfg.EMAAlpha)
	chaosRegistry := chaos.NewRegistry()
	healthMonitor := health.New(cfg.HealthWindowSize, cfg.EMAAlpha)
	learningBuffer := buffer.New(cfg.BufferCapacity)
	broadcaster := broadcast.New()

	core := dispatch.New(cfg, behaviorStore, chaosRegistry, learningBuffer, m, logger.New("DISPATCH", cfg.LogLevel))
	consolidator := dispatch.NewConsolidator(learningBuffer, behaviorStore, healthMonitor, st, broadcaster, m, logger.New("CONSOLIDATE", cfg.LogLevel))
	adminServer := admin.New(cfg, core, chaosRegistry, behaviorStore, healthMonitor, st, broadcaster, m, logger.New("ADMIN", cfg.LogLevel))

	consolidatorCtx, stopConsolidator := context.WithCancel(context.Background())
	consolidatorDone := make(chan struct{})
	go func() {
		consolidator.Run(consolidatorCtx)
		close(consolidatorDone)
	}()

	mux := http.NewServeMux()
	mux.Handle("/admin/", adminServer.Handler())
	mux.Handle("/", core)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown", "signal received, shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceMS)*time.Millisecond)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("shutdown", "HTTP shutdown error: %v", err)
		}

		// Closing the buffer lets the consolidator drain whatever is
		// already queued instead of discarding it; only work that
		// doesn't finish within the grace period is dropped.
		learningBuffer.Close()
		select {
		case <-consolidatorDone:
			log.Info("shutdown", "consolidator drained cleanly")
		case <-ctx.Done():
			stopConsolidator()
			dropped := len(learningBuffer.Drain())
			log.Warnf("shutdown", "grace period expired, discarding %d queued transactions", dropped)
		}
	}()

	log.Infof("boot", "listening on %s, mode=%s, target=%s, failover=%v", cfg.ListenAddr, cfg.Mode, cfg.TargetURL, cfg.Failover)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("boot", "fatal: %v", err)
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║                    learnproxy                         ║
╚══════════════════════════════════════════════════════╝
  Listen address  : %s
  Target URL      : %s
  Mode            : %s
  Failover        : %v
  Storage         : %s

  Admin API:
    curl http://localhost%s/admin/health/global
`, cfg.ListenAddr, cfg.TargetURL, cfg.Mode, cfg.Failover, cfg.DBPath, cfg.ListenAddr)
}
