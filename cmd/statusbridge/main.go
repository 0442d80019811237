package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexio-tech/statusbridge/pkg/config"
	"github.com/nexio-tech/statusbridge/pkg/crm"
	"github.com/nexio-tech/statusbridge/pkg/notify"
	"github.com/nexio-tech/statusbridge/pkg/scheduler"
	"github.com/nexio-tech/statusbridge/pkg/server"
	"github.com/nexio-tech/statusbridge/pkg/store"
	"github.com/nexio-tech/statusbridge/pkg/telemetry"
)

func main() {
	ctx := context.Background()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/statusbridge")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	logger := newLogger(cfg.LogLevel)

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	// Initialize the event store
	repo, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize repository: ", err)
	}

	// Initialize the status-notification broker
	notifier, err := notify.NewNotifier(ctx, &cfg.Broker, logger)
	if err != nil {
		log.Fatal("Failed to initialize notifier: ", err)
	}
	defer notifier.Close()

	crmClient := crm.NewClient(cfg.CRM, logger)

	sched := scheduler.New(repo, crmClient, notifier, cfg.Scheduler, logger)
	if cfg.Scheduler.AutoStart {
		sched.Start()
	}
	defer sched.Stop()

	srv := server.New(repo, sched, crmClient, cfg.Auth, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown failed")
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
