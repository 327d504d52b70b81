// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

// Command giphyproxy runs the transparent TCP relay with Prometheus
// metrics and health endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/erawl/giphyproxy"
	"github.com/erawl/giphyproxy/pkg/health"
	"github.com/erawl/giphyproxy/pkg/metrics"
	"github.com/erawl/giphyproxy/pkg/relay"
)

const envPrefix = "GIPHYPROXY_"

func main() {
	// Load .env file if present; environment variables alone are fine.
	_ = godotenv.Load()

	var cfg giphyproxy.Config
	var err error
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		cfg, err = giphyproxy.LoadFile(path, env.Options{Prefix: envPrefix})
	} else {
		cfg, err = giphyproxy.NewConfig(env.Options{Prefix: envPrefix})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	m := metrics.New("giphyproxy")

	locator, err := relay.NewDialLocator(cfg.TargetHost, cfg.TargetPort)
	if err != nil {
		logger.Error("failed to resolve target", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := relay.New(relay.Config{
		Address: cfg.Address(),
		Logger:  logger,
		Metrics: m,
	}, locator)

	if err := server.Start(); err != nil {
		logger.Error("failed to start relay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	checker := health.NewChecker(10 * time.Second)
	checker.Register("listener", func(ctx context.Context) error {
		conn, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", checker.Handler())
	healthMux.HandleFunc("/livez", health.LivenessHandler())
	healthMux.HandleFunc("/readyz", checker.ReadinessHandler())

	shutdownWait := time.Duration(cfg.ShutdownWait)
	g.Go(func() error {
		return serveHTTP(ctx, cfg.MetricsPort, metricsMux, logger, "metrics", shutdownWait)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg.HealthPort, healthMux, logger, "health", shutdownWait)
	})
	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})
	g.Go(func() error {
		<-ctx.Done()
		server.Shutdown()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return server.Wait()
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("giphyproxy terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("giphyproxy stopped")
}

func newLogger(cfg giphyproxy.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// serveHTTP runs an HTTP server until the context is cancelled, then
// shuts it down gracefully.
func serveHTTP(ctx context.Context, port int, mux http.Handler, logger *slog.Logger, name string, shutdownWait time.Duration) error {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info(name+" server started", slog.Int("port", port))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
