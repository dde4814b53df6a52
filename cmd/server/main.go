package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/observability"
	"github.com/lexiqai/transcription-gateway/internal/stream"
	"github.com/lexiqai/transcription-gateway/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	factory, err := stt.NewFactory(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure transcription backend")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("backend", factory.Provider()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Transcription Gateway starting")

	// Cancelled on shutdown; every session context derives from it
	rootCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/transcribe", stream.Handler(cfg, factory))
	mux.HandleFunc("/health", observability.HealthCheckHandler(factory.Provider()))

	checks := map[string]observability.HealthCheckFunc{
		factory.Provider(): factory.Check,
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No read/write timeouts: sessions are long-lived WebSocket connections
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/transcribe", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	grpcDone := make(chan struct{})
	if cfg.GRPCHealthPort != "0" {
		healthServer := observability.NewGRPCHealthServer(checks, 10*time.Second, logger)
		go func() {
			defer close(grpcDone)
			if err := healthServer.Serve(rootCtx, fmt.Sprintf(":%s", cfg.GRPCHealthPort)); err != nil {
				logger.Error().Err(err).Msg("gRPC health server failed")
			}
		}()
	} else {
		close(grpcDone)
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Hijacked WebSocket connections are not tracked by Shutdown; cancelling
	// the root context ends every session.
	cancelSessions()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-grpcDone

	logger.Info().Msg("Server exited gracefully")
}
