// Package main is mnemnkd's entry point: load configuration, build the
// composition root, serve the UI Gateway's HTTP/websocket API, and shut
// down cleanly on SIGINT/SIGTERM. Grounded in the teacher's
// cmd/kandev/main.go unified-binary wiring (config.Load -> logger.New ->
// construct collaborators -> start http.Server -> block on a signal
// channel -> context-timeout shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mnemnk/runtime/internal/agent/env"
	"github.com/mnemnk/runtime/internal/common/config"
	"github.com/mnemnk/runtime/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting mnemnkd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := env.New(cfg, log)
	if err != nil {
		log.Fatal("failed to build runtime", zap.Error(err))
	}

	go e.Run(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      e.Server().Handler(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("ui gateway listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ui gateway failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mnemnkd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	e.Shutdown(cfg.Router.ShutdownGrace())

	log.Info("mnemnkd stopped")
}
