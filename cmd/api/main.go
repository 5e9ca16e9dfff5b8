package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hoken/service-manager/internal/config"
	"github.com/hoken/service-manager/internal/events"
	"github.com/hoken/service-manager/internal/serviceorders"
	"github.com/hoken/service-manager/internal/store"
	"github.com/hoken/service-manager/internal/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo := openRepository(ctx, cfg, logger)
	defer closeRepo()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = producer
	} else {
		logger.Info("KAFKA_BROKERS not set - service order events are not published")
	}

	wsHub := websocket.NewHub(cfg.AllowedOrigin, logger)
	go wsHub.Run(ctx)

	service := serviceorders.NewService(repo, publisher, logger)
	service.SetBroadcaster(wsHub)

	router := mux.NewRouter()
	serviceorders.NewHandler(service, repo, logger).Register(router)
	router.HandleFunc("/ws", wsHub.HandleWebSocket)
	router.Use(loggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      corsMiddleware(cfg.AllowedOrigin)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.APIPort).Info("Starting service order API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	logger.Info("Server gracefully stopped")
}

func openRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Repository, func()) {
	if cfg.Storage == "memory" {
		logger.Warn("Using in-memory storage - data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	db, err := store.OpenPostgres(ctx, cfg.DSN(), 30, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	repo := store.NewPostgresStore(db, logger)
	if err := repo.CreateTables(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}
	return repo, func() { db.Close() }
}
