package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/hoken/service-manager/internal/events"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDeadLetter(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var out bytes.Buffer
	handler := &dlqHandler{logger: logger, out: &out}

	metadata, err := json.Marshal(events.MessageMetadata{
		RetryCount:    3,
		FirstFailure:  time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC),
		OriginalTopic: events.ServiceOrderUpdatedTopic,
		ErrorMessage:  "smtp: connection refused",
	})
	require.NoError(t, err)
	payload, err := json.Marshal(events.ServiceOrderEvent{Type: events.EventItemAdded, OrderID: "os-7", ItemsCount: 2})
	require.NoError(t, err)

	handler.report(&sarama.ConsumerMessage{
		Topic:   events.ServiceOrderDLQTopic,
		Key:     []byte("os-7"),
		Value:   payload,
		Headers: []*sarama.RecordHeader{{Key: []byte("metadata"), Value: metadata}},
	})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, 3, entries[0].Data["retry_count"])
	assert.Equal(t, "os-7", entries[1].Data["order_id"])

	assert.Contains(t, out.String(), "Retry Count: 3")
	assert.Contains(t, out.String(), "Error: smtp: connection refused")
	assert.Contains(t, out.String(), "Event: "+events.EventItemAdded)
}

func TestReportUndecodablePayload(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := &dlqHandler{logger: logger, out: &bytes.Buffer{}}

	handler.report(&sarama.ConsumerMessage{Topic: events.ServiceOrderDLQTopic, Value: []byte("not json")})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "DLQ payload is not a service order event", entries[1].Message)
}
