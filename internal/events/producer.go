package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	ServiceOrderCreatedTopic = "service_order.created"
	ServiceOrderUpdatedTopic = "service_order.updated"
)

const (
	EventOrderCreated  = "service_order_created"
	EventNotesUpdated  = "service_order_notes_updated"
	EventItemAdded     = "service_order_item_added"
	EventItemRemoved   = "service_order_item_removed"
	EventStatusChanged = "service_order_status_changed"
)

type ServiceOrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	ItemsCount int       `json:"items_count"`
	ItemsTotal float64   `json:"items_total"`
	ItemID     string    `json:"item_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	EventTime  time.Time `json:"event_time"`
}

// Topic routes creation events apart from every other change.
func (e ServiceOrderEvent) Topic() string {
	if e.Type == EventOrderCreated {
		return ServiceOrderCreatedTopic
	}
	return ServiceOrderUpdatedTopic
}

type Publisher interface {
	PublishServiceOrderEvent(ctx context.Context, event ServiceOrderEvent) error
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishServiceOrderEvent(ctx context.Context, event ServiceOrderEvent) error {
	return nil
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), producerConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaProducerWith(producer, logger), nil
}

func NewKafkaProducerWith(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func (p *KafkaProducer) PublishServiceOrderEvent(ctx context.Context, event ServiceOrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: event.Topic(),
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":      msg.Topic,
		"partition":  partition,
		"offset":     offset,
		"order_id":   event.OrderID,
		"event_type": event.Type,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
