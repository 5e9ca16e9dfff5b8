package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

const ServiceOrderDLQTopic = "service_order.events.dlq"

const (
	headerMetadata      = "metadata"
	headerRetryCount    = "retry_count"
	headerOriginalTopic = "original_topic"
	headerFailureTime   = "failure_time"
)

// MessageMetadata travels with a dead-lettered message in the "metadata" header.
type MessageMetadata struct {
	RetryCount        int       `json:"retry_count"`
	FirstFailure      time.Time `json:"first_failure"`
	LastFailure       time.Time `json:"last_failure"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	ErrorMessage      string    `json:"error_message"`
}

// ExtractMetadata reads the retry bookkeeping off a consumed message. Missing
// or malformed headers leave the zero values in place.
func ExtractMetadata(message *sarama.ConsumerMessage) MessageMetadata {
	metadata := MessageMetadata{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
	}

	for _, header := range message.Headers {
		if header == nil {
			continue
		}
		switch string(header.Key) {
		case headerMetadata:
			var stored MessageMetadata
			if err := json.Unmarshal(header.Value, &stored); err == nil {
				metadata = stored
			}
		case headerRetryCount:
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				metadata.RetryCount = count
			}
		}
	}
	return metadata
}

func newDLQMessage(message *sarama.ConsumerMessage, processingError error, now time.Time) (*sarama.ProducerMessage, error) {
	previous := ExtractMetadata(message)
	metadata := MessageMetadata{
		RetryCount:        previous.RetryCount + 1,
		FirstFailure:      previous.FirstFailure,
		LastFailure:       now,
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		ErrorMessage:      processingError.Error(),
	}
	if metadata.FirstFailure.IsZero() {
		metadata.FirstFailure = now
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: ServiceOrderDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerMetadata), Value: metadataBytes},
			{Key: []byte(headerOriginalTopic), Value: []byte(message.Topic)},
			{Key: []byte(headerFailureTime), Value: []byte(now.Format(time.RFC3339))},
		},
	}, nil
}
