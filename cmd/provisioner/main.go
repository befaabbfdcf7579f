package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	environment "kurut-provisioner/internal/env"
)

func main() {
	ctx := context.Background()

	env, err := environment.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup environment: %v", err)
	}

	logger := env.Logger
	logger.Info("Starting kurut-provisioner")

	if env.Servers.Observability != nil {
		go func() {
			logger.Info("Starting observability server", slog.String("addr", env.Servers.Observability.Addr))
			if err := env.Servers.Observability.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Observability server error", slog.Any("error", err))
			}
		}()
	}

	manager := env.NewWorkers()
	if err := manager.Start(); err != nil {
		logger.Error("Failed to start workers", slog.Any("error", err))
		env.Close()
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Provisioner started. Press Ctrl+C to stop.")
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownDuration)
	defer cancel()

	manager.Stop()

	if env.Servers.Observability != nil {
		if err := env.Servers.Observability.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Observability server shutdown error", slog.Any("error", err))
		}
	}

	env.Close()
	logger.Info("Provisioner stopped")
}
