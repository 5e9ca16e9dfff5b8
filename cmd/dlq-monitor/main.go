package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/hoken/service-manager/internal/config"
	"github.com/hoken/service-manager/internal/events"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS is required by the DLQ monitor")
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(cfg.KafkaBrokers, ","), "service-order-dlq-monitor", consumerConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &dlqHandler{logger: logger, out: os.Stdout}

	go func() {
		for ctx.Err() == nil {
			if err := consumer.Consume(ctx, []string{events.ServiceOrderDLQTopic}, handler); err != nil {
				logger.WithError(err).Error("Error consuming from DLQ")
				time.Sleep(time.Second)
			}
		}
	}()

	logger.WithField("topic", events.ServiceOrderDLQTopic).Info("DLQ monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down DLQ monitor...")
}

type dlqHandler struct {
	logger *logrus.Logger
	out    io.Writer
}

func (h *dlqHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.report(message)
		session.MarkMessage(message, "")
	}
	return nil
}

func (h *dlqHandler) report(message *sarama.ConsumerMessage) {
	metadata := events.ExtractMetadata(message)

	h.logger.WithFields(logrus.Fields{
		"topic":          message.Topic,
		"partition":      message.Partition,
		"offset":         message.Offset,
		"key":            string(message.Key),
		"original_topic": metadata.OriginalTopic,
		"retry_count":    metadata.RetryCount,
		"first_failure":  metadata.FirstFailure,
		"error":          metadata.ErrorMessage,
	}).Warn("DLQ message detected")

	var event events.ServiceOrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		h.logger.WithError(err).Warn("DLQ payload is not a service order event")
	} else {
		h.logger.WithFields(logrus.Fields{
			"event_type":  event.Type,
			"order_id":    event.OrderID,
			"customer_id": event.CustomerID,
			"items_count": event.ItemsCount,
		}).Info("DLQ service order details")
	}

	fmt.Fprintf(h.out, "\n=== DLQ Message ===\n")
	fmt.Fprintf(h.out, "Order: %s\n", string(message.Key))
	fmt.Fprintf(h.out, "Event: %s\n", event.Type)
	fmt.Fprintf(h.out, "Original topic: %s\n", metadata.OriginalTopic)
	fmt.Fprintf(h.out, "Error: %s\n", metadata.ErrorMessage)
	fmt.Fprintf(h.out, "Retry Count: %d\n", metadata.RetryCount)
	fmt.Fprintf(h.out, "==================\n\n")
}
