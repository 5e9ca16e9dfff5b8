package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hoken/service-manager/internal/circuitbreaker"
	"github.com/hoken/service-manager/internal/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sampleEvent() events.ServiceOrderEvent {
	return events.ServiceOrderEvent{
		Type:       events.EventItemAdded,
		OrderID:    "os-100",
		CustomerID: "cli-7",
		Status:     "scheduled",
		ItemsCount: 2,
		ItemsTotal: 125.8,
		EventTime:  time.Date(2026, 4, 2, 10, 15, 0, 0, time.UTC),
	}
}

type recordingSender struct {
	messages []*gomail.Message
	err      error
}

func (s *recordingSender) DialAndSend(m ...*gomail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, m...)
	return nil
}

type countingNotifier struct {
	name  string
	errs  []error
	calls int
}

func (n *countingNotifier) Name() string { return n.name }

func (n *countingNotifier) Notify(ctx context.Context, event events.ServiceOrderEvent) error {
	n.calls++
	if len(n.errs) == 0 {
		return nil
	}
	err := n.errs[0]
	n.errs = n.errs[1:]
	return err
}

func TestEmailNotifier(t *testing.T) {
	sender := &recordingSender{}
	n := &EmailNotifier{
		config: SMTPConfig{Host: "smtp.local", From: "os@hoken.com.br", To: []string{"oficina@hoken.com.br"}},
		sender: sender,
	}

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	assert.Equal(t, []string{"[HOKEN] Item adicionado - OS os-100"}, msg.GetHeader("Subject"))
	assert.Equal(t, []string{"oficina@hoken.com.br"}, msg.GetHeader("To"))
	assert.Contains(t, emailBody(sampleEvent()), "R$ 125.80")
}

func TestEmailNotifierFailureIsTemporary(t *testing.T) {
	n := &EmailNotifier{
		config: SMTPConfig{Host: "smtp.local", From: "a@b", To: []string{"c@d"}},
		sender: &recordingSender{err: errors.New("connection refused")},
	}

	err := n.Notify(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, ErrTemporary)
}

func TestSMTPConfigEnabled(t *testing.T) {
	assert.False(t, SMTPConfig{}.Enabled())
	assert.False(t, SMTPConfig{Host: "h", From: "f"}.Enabled())
	assert.True(t, SMTPConfig{Host: "h", From: "f", To: []string{"t"}}.Enabled())
}

func TestWebhookNotifier(t *testing.T) {
	var received events.ServiceOrderEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "segredo", r.Header.Get("X-Hoken-Secret"))
		assert.Equal(t, events.EventItemAdded, r.Header.Get("X-Hoken-Event"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "webhook", MaxFailures: 3, Timeout: time.Minute}, quietLogger())
	n := NewWebhookNotifier(server.URL, "segredo", breaker, quietLogger())

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, "os-100", received.OrderID)
}

func TestWebhookNotifierStatusHandling(t *testing.T) {
	var status atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "webhook", MaxFailures: 2, Timeout: time.Minute}, quietLogger())
	n := NewWebhookNotifier(server.URL, "", breaker, quietLogger())
	ctx := context.Background()

	status.Store(http.StatusBadRequest)
	err := n.Notify(ctx, sampleEvent())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTemporary)

	status.Store(http.StatusBadGateway)
	err = n.Notify(ctx, sampleEvent())
	assert.ErrorIs(t, err, ErrTemporary)

	err = n.Notify(ctx, sampleEvent())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
}

func TestDispatcherSkipsNotifiersAlreadyDelivered(t *testing.T) {
	email := &countingNotifier{name: "email"}
	webhook := &countingNotifier{name: "webhook", errs: []error{temporary(errors.New("503"))}}
	d := NewDispatcher(quietLogger(), email, webhook)
	event := sampleEvent()

	err := d.HandleServiceOrderEvent(context.Background(), event)
	require.Error(t, err)
	assert.True(t, d.IsRetryable(err))

	require.NoError(t, d.HandleServiceOrderEvent(context.Background(), event))
	assert.Equal(t, 1, email.calls, "email must not be sent twice")
	assert.Equal(t, 2, webhook.calls)
	assert.Empty(t, d.delivered)
}

func TestDispatcherPermanentFailure(t *testing.T) {
	webhook := &countingNotifier{name: "webhook", errs: []error{errors.New("410 gone")}}
	d := NewDispatcher(quietLogger(), webhook)

	err := d.HandleServiceOrderEvent(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.False(t, d.IsRetryable(err))
	assert.Empty(t, d.delivered)
}

func TestDispatcherTreatsOpenBreakerAsRetryable(t *testing.T) {
	d := NewDispatcher(quietLogger())
	assert.True(t, d.IsRetryable(circuitbreaker.ErrCircuitBreakerOpen))
}
