// Package main is the entry point for the routing and admission gateway.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/llmcore/internal/api"
	"github.com/blueberrycongee/llmcore/internal/configstore"
	"github.com/blueberrycongee/llmcore/internal/httpclient"
	"github.com/blueberrycongee/llmcore/internal/idempotency"
	"github.com/blueberrycongee/llmcore/internal/metrics"
	"github.com/blueberrycongee/llmcore/internal/router"
	"github.com/blueberrycongee/llmcore/internal/settings"
	"github.com/blueberrycongee/llmcore/internal/strategy"
	"github.com/blueberrycongee/llmcore/pkg/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	settingsPath := flag.String("settings", "config/settings.json", "path to the settings document")
	instancesPath := flag.String("instances", "config/instances.yaml", "path to the instance list")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting routing and admission gateway")

	settingsMgr, err := settings.NewManager(*settingsPath, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := settingsMgr.Watch(ctx); err != nil {
		logger.Warn("settings hot-reload disabled", "error", err)
	}
	defer func() { _ = settingsMgr.Close() }()

	store := configstore.NewFileStore(*instancesPath, logger)
	if _, err := store.Load(ctx); err != nil {
		logger.Warn("initial instance load failed, starting with none", "error", err)
	}

	clientMgr := httpclient.New(logger)
	defer clientMgr.Shutdown()
	go clientMgr.RunEvictionLoop(ctx)

	rtr := router.New(
		settingsMgr.Get(),
		store,
		clientMgr,
		func(tag string, s types.Settings) strategy.Strategy {
			return strategy.NewByTag(tag, s, types.NowMs)
		},
		router.WithLogger(logger),
	)
	settingsMgr.OnChange(func(s types.Settings) {
		if err := rtr.UpdateSettings(ctx, s); err != nil {
			logger.Error("failed to apply reloaded settings", "error", err)
		}
	})
	defer rtr.Shutdown()

	if err := rtr.Refresh(ctx); err != nil {
		logger.Warn("initial instance refresh failed", "error", err)
	}

	idemStore := idempotency.NewMemoryStore(time.Minute)

	chatHandler := &api.ChatHandler{
		Router:       rtr,
		Idempotency:  idemStore,
		ClientGetter: clientMgr,
		Log:          logger,
	}
	adminHandler := &api.AdminHandler{Router: rtr, SettingsManager: settingsMgr}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/chat/completions", chatHandler)
	mux.HandleFunc("GET /admin/strategies", adminHandler.Strategies)
	mux.HandleFunc("GET /admin/settings", adminHandler.Settings)
	mux.HandleFunc("PUT /admin/settings", adminHandler.Settings)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down gateway")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("gateway stopped")
	return nil
}
