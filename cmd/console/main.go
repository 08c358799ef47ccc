// Package main is the entry point for the SAVIOUR operator console server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/config"
	"github.com/saviour-lab/console/internal/observability"
	"github.com/saviour-lab/console/internal/registry"
	"github.com/saviour-lab/console/internal/rig"
	"github.com/saviour-lab/console/internal/session"
	"github.com/saviour-lab/console/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "saviour-console", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Connect the rig event channel.
	rigClient := rig.New(rig.Options{
		URL:          cfg.Rig.URL,
		DialTimeout:  cfg.Rig.DialTimeout,
		AckTimeout:   cfg.Rig.AckTimeout,
		ReconnectMin: cfg.Rig.ReconnectMin,
		ReconnectMax: cfg.Rig.ReconnectMax,
	}, logger.Named("rig"))

	rigClient.OnConnect(func() {
		metrics.RecordRigReconnect()
	})
	rigClient.Instrument(metrics.RecordRigEventReceived, metrics.RecordRigEventEmitted)

	// Step 5: Build the session manager and the rig registry view.
	sessions := session.NewManager(logger.Named("session"))
	sessions.OnStalePush(metrics.RecordStalePush)
	modules := registry.New(sessions, logger.Named("registry"))
	detach := modules.Attach(rigClient)
	defer detach()

	go func() {
		if err := rigClient.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("rig channel terminated", zap.Error(err))
		}
	}()

	// Step 6: Build the HTTP router.
	var authenticate func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		authenticate = transport.JWTAuthenticator(cfg.Auth)
	} else {
		logger.Warn("operator authentication disabled")
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Sessions:     sessions,
		Modules:      modules,
		Rig:          rigClient,
		Authenticate: authenticate,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Start background gauge sampling.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go sampleGauges(bgCtx, metrics, rigClient, sessions, modules)

	// Step 8: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("rig_url", cfg.Rig.URL),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// sampleGauges periodically refreshes the gauges that mirror in-memory
// state rather than discrete events.
func sampleGauges(ctx context.Context, metrics *observability.Metrics, rigClient *rig.Client, sessions *session.Manager, modules *registry.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetRigConnected(rigClient.Connected())
			metrics.SetSessionsActive(float64(sessions.Count()))
			metrics.SetModulesKnown(float64(len(modules.Modules())))
		}
	}
}
