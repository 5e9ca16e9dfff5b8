package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hoken/service-manager/internal/circuitbreaker"
	"github.com/hoken/service-manager/internal/config"
	"github.com/hoken/service-manager/internal/events"
	"github.com/hoken/service-manager/internal/notify"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS is required by the notifier")
	}

	breakers := circuitbreaker.NewManager(logger)
	dispatcher := notify.NewDispatcher(logger, buildNotifiers(cfg, breakers, logger)...)

	logger.WithField("brokers", cfg.KafkaBrokers).Info("Initializing Kafka consumer...")

	var consumer *events.KafkaConsumerWithRetry
	for i := 0; i < 10; i++ {
		consumer, err = events.NewKafkaConsumerWithRetry(cfg.KafkaBrokers, cfg.ConsumerGroup, dispatcher, logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}

		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer after retries")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("Starting service order notifier")
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "notifier"})
	}).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"consumer": consumer.Metrics(),
			"breakers": breakers.AllMetrics(),
		})
	}).Methods("GET")
	router.HandleFunc("/breakers/{name}/reset", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if !breakers.Reset(name) {
			respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "unknown circuit breaker"})
			return
		}
		logger.WithField("breaker", name).Info("Circuit breaker reset by operator")
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}).Methods("POST")

	port := cfg.NotifierPort
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", port).Info("Starting notifier admin server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down notifier...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}

	cancel()
	if err := consumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Kafka consumer")
	}

	logger.Info("Notifier gracefully stopped")
}

func buildNotifiers(cfg config.Config, breakers *circuitbreaker.Manager, logger *logrus.Logger) []notify.Notifier {
	var notifiers []notify.Notifier

	smtp := notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		To:       cfg.SMTPTo,
	}
	if smtp.Enabled() {
		notifiers = append(notifiers, notify.NewEmailNotifier(smtp))
		logger.WithField("recipients", len(smtp.To)).Info("Email notifications enabled")
	} else {
		logger.Info("SMTP not configured - email notifications disabled")
	}

	if cfg.WebhookURL != "" {
		breaker := breakers.GetOrCreate("webhook", circuitbreaker.Config{
			MaxFailures: cfg.WebhookMaxFailures,
			Timeout:     cfg.WebhookBreakerTimeout,
			MaxRequests: 1,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Webhook circuit breaker changed state")
			},
		})
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, breaker, logger))
		logger.Info("Webhook notifications enabled")
	} else {
		logger.Info("WEBHOOK_URL not set - webhook notifications disabled")
	}

	return notifiers
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
