package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	MaxRetries        = 3
	InitialRetryDelay = 1 * time.Second
	MaxRetryDelay     = 30 * time.Second
)

type ServiceOrderEventHandler interface {
	HandleServiceOrderEvent(ctx context.Context, event ServiceOrderEvent) error
	IsRetryable(err error) bool
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   MaxRetries,
		InitialDelay: InitialRetryDelay,
		MaxDelay:     MaxRetryDelay,
	}
}

type ConsumerMetrics struct {
	ProcessedCount atomic.Int64
	RetryCount     atomic.Int64
	DLQCount       atomic.Int64
	SuccessCount   atomic.Int64
	FailureCount   atomic.Int64
}

type MetricsSnapshot struct {
	ProcessedCount int64 `json:"processed_count"`
	RetryCount     int64 `json:"retry_count"`
	DLQCount       int64 `json:"dlq_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
}

func (m *ConsumerMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ProcessedCount: m.ProcessedCount.Load(),
		RetryCount:     m.RetryCount.Load(),
		DLQCount:       m.DLQCount.Load(),
		SuccessCount:   m.SuccessCount.Load(),
		FailureCount:   m.FailureCount.Load(),
	}
}

type KafkaConsumerWithRetry struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	handler       *consumerGroupHandlerWithRetry
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandlerWithRetry struct {
	handler  ServiceOrderEventHandler
	producer sarama.SyncProducer
	logger   *logrus.Logger
	metrics  *ConsumerMetrics
	policy   RetryPolicy
}

func NewKafkaConsumerWithRetry(brokers, groupID string, handler ServiceOrderEventHandler, logger *logrus.Logger) (*KafkaConsumerWithRetry, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	brokerList := strings.Split(brokers, ",")
	consumerGroup, err := sarama.NewConsumerGroup(brokerList, groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokerList, producerConfig())
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &KafkaConsumerWithRetry{
		consumerGroup: consumerGroup,
		producer:      producer,
		handler:       newRetryHandler(handler, producer, DefaultRetryPolicy(), logger),
		logger:        logger,
		topics:        []string{ServiceOrderCreatedTopic, ServiceOrderUpdatedTopic},
	}, nil
}

func newRetryHandler(handler ServiceOrderEventHandler, producer sarama.SyncProducer, policy RetryPolicy, logger *logrus.Logger) *consumerGroupHandlerWithRetry {
	return &consumerGroupHandlerWithRetry{
		handler:  handler,
		producer: producer,
		logger:   logger,
		metrics:  &ConsumerMetrics{},
		policy:   policy,
	}
}

func (c *KafkaConsumerWithRetry) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *KafkaConsumerWithRetry) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}

func (c *KafkaConsumerWithRetry) Metrics() MetricsSnapshot {
	return c.handler.metrics.Snapshot()
}

func (h *consumerGroupHandlerWithRetry) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandlerWithRetry) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandlerWithRetry) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if !h.process(session.Context(), message) {
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

// process handles one message end to end. A message that cannot be handled
// is dead-lettered so the partition keeps moving. It reports false when the
// session ended mid-retry; the message is then left unmarked for redelivery.
func (h *consumerGroupHandlerWithRetry) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	h.metrics.ProcessedCount.Add(1)

	err := h.handleMessageWithRetry(ctx, message)
	if err == nil {
		h.metrics.SuccessCount.Add(1)
		return true
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		h.logger.WithField("key", string(message.Key)).Info("Session closed while retrying, leaving message for redelivery")
		return false
	}

	h.logger.WithError(err).Error("Failed to process message after retries")
	h.metrics.FailureCount.Add(1)

	if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
		h.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return true
	}
	h.metrics.DLQCount.Add(1)
	return true
}

func (h *consumerGroupHandlerWithRetry) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	h.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}).Info("Processing Kafka message with retry support")

	var event ServiceOrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal service order event: %w", err)
	}

	retryDelay := h.policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= h.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			h.logger.WithFields(logrus.Fields{
				"order_id": event.OrderID,
				"attempt":  attempt,
				"delay":    retryDelay,
			}).Info("Retrying service order event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			h.metrics.RetryCount.Add(1)

			retryDelay *= 2
			if retryDelay > h.policy.MaxDelay {
				retryDelay = h.policy.MaxDelay
			}
		}

		lastErr = h.handler.HandleServiceOrderEvent(ctx, event)
		if lastErr == nil {
			return nil
		}

		if !h.handler.IsRetryable(lastErr) {
			h.logger.WithError(lastErr).Error("Non-retryable error encountered")
			return lastErr
		}

		h.logger.WithError(lastErr).WithField("attempt", attempt+1).Warn("Retryable error processing service order event")
	}

	return fmt.Errorf("exhausted retries for service order %s: %w", event.OrderID, lastErr)
}

func (h *consumerGroupHandlerWithRetry) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	dlqMessage, err := newDLQMessage(message, processingError, time.Now())
	if err != nil {
		return err
	}

	partition, offset, err := h.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic":     ServiceOrderDLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")

	return nil
}
