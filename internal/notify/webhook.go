package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hoken/service-manager/internal/circuitbreaker"
	"github.com/hoken/service-manager/internal/events"
	"github.com/sirupsen/logrus"
)

type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewWebhookNotifier(url, secret string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: breaker,
		logger:  logger,
	}
}

func (n *WebhookNotifier) Name() string {
	return "webhook"
}

func (n *WebhookNotifier) Notify(ctx context.Context, event events.ServiceOrderEvent) error {
	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.post(ctx, event)
	})
}

func (n *WebhookNotifier) post(ctx context.Context, event events.ServiceOrderEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hoken-Event", event.Type)
	if n.secret != "" {
		req.Header.Set("X-Hoken-Secret", n.secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return temporary(fmt.Errorf("failed to send webhook: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return temporary(fmt.Errorf("webhook returned error status: %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return fmt.Errorf("webhook rejected event with status: %d", resp.StatusCode)
	}

	n.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"status":   resp.StatusCode,
	}).Debug("Webhook delivered")
	return nil
}
