// Package main provides the entry point for the commentary worker service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"commentaryapp/internal/config"
	"commentaryapp/internal/di"
	"commentaryapp/internal/handlers"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/version"
	"commentaryapp/internal/worker"
)

// fatalIfErr logs the error with context and panics with a consistent message
func fatalIfErr(ctx context.Context, logger *observability.Logger, msg string, err error, fields map[string]interface{}) {
	logger.Error(ctx, msg, err, fields)
	panic(msg + ": " + err.Error())
}

func main() {
	ctx := context.Background()

	cfg, err := config.NewConfig()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	cfg.OpenTelemetry.ServiceVersion = version.Version

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, handlers.ServiceName, observability.ParseLevel(cfg.Server.LogLevel))
	if err != nil {
		panic("Failed to initialize observability: " + err.Error())
	}
	defer observability.Shutdown(context.Background(), tp, mp, logger)

	logger.Info(ctx, "Starting commentary worker service", map[string]interface{}{
		"port":     cfg.Server.WorkerPort,
		"logLevel": cfg.Server.LogLevel,
		"debug":    cfg.Server.Debug,
		"slots":    cfg.SlotNames(),
		"build":    version.Get(handlers.ServiceName).String(),
	})

	container := di.NewServiceContainer(cfg, logger)
	if err := container.Initialize(ctx); err != nil {
		fatalIfErr(ctx, logger, "Failed to initialize services", err, nil)
	}
	dispatcher, err := container.GetDispatcher()
	if err != nil {
		fatalIfErr(ctx, logger, "Dispatcher unavailable", err, nil)
	}
	store, err := container.GetCommentaryStore()
	if err != nil {
		fatalIfErr(ctx, logger, "Commentary store unavailable", err, nil)
	}
	settings, err := container.GetSettingsService()
	if err != nil {
		fatalIfErr(ctx, logger, "Settings service unavailable", err, nil)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerInstance := worker.NewWorker(dispatcher, "default", cfg, logger)
	go workerInstance.Start(workerCtx)

	router := handlers.NewRouter(cfg, handlers.RouterDeps{
		Runner:     workerInstance,
		Dispatcher: dispatcher,
		Limiters:   dispatcher,
		Requeuer:   store,
		Settings:   settings,
		Worker:     workerInstance,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.WorkerPort,
		Handler:           router,
		ReadHeaderTimeout: config.DefaultHTTPTimeout,
	}

	go func() {
		logger.Info(ctx, "Worker server starting", map[string]interface{}{"port": cfg.Server.WorkerPort})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalIfErr(ctx, logger, "Failed to start worker server", err, map[string]interface{}{"port": cfg.Server.WorkerPort})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Worker server shutting down", map[string]interface{}{"service": handlers.ServiceName})

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, config.WorkerShutdownTimeout)
	defer shutdownCancel()

	// stop accepting invocations before draining the worker
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Worker server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := workerInstance.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Worker did not shut down cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Service container shutdown failed", map[string]interface{}{"error": err.Error()})
	}

	logger.Info(ctx, "Worker server exited", map[string]interface{}{"service": handlers.ServiceName})
}
