// Package notify delivers service-order events to the integrations the
// office configures: an SMTP mailbox and an outbound webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hoken/service-manager/internal/circuitbreaker"
	"github.com/hoken/service-manager/internal/events"
	"github.com/sirupsen/logrus"
)

// ErrTemporary marks failures worth retrying.
var ErrTemporary = errors.New("temporary notification failure")

type Notifier interface {
	Name() string
	Notify(ctx context.Context, event events.ServiceOrderEvent) error
}

func temporary(err error) error {
	return fmt.Errorf("%w: %v", ErrTemporary, err)
}

const maxTrackedDeliveries = 1024

// Dispatcher fans an event out to every notifier. It remembers which
// notifiers already succeeded for an event so a retried event is not sent
// twice to the same place.
type Dispatcher struct {
	notifiers []Notifier
	logger    *logrus.Logger

	mutex     sync.Mutex
	delivered map[string]map[string]bool
}

func NewDispatcher(logger *logrus.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		logger:    logger,
		delivered: make(map[string]map[string]bool),
	}
}

func deliveryKey(event events.ServiceOrderEvent) string {
	return fmt.Sprintf("%s|%s|%s|%d", event.OrderID, event.Type, event.ItemID, event.EventTime.UnixNano())
}

func (d *Dispatcher) HandleServiceOrderEvent(ctx context.Context, event events.ServiceOrderEvent) error {
	key := deliveryKey(event)
	var errs []error

	for _, notifier := range d.notifiers {
		if d.alreadyDelivered(key, notifier.Name()) {
			continue
		}

		if err := notifier.Notify(ctx, event); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"notifier": notifier.Name(),
				"order_id": event.OrderID,
				"event":    event.Type,
			}).Warn("Notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}

		d.markDelivered(key, notifier.Name())
		d.logger.WithFields(logrus.Fields{
			"notifier": notifier.Name(),
			"order_id": event.OrderID,
			"event":    event.Type,
		}).Info("Notification delivered")
	}

	err := errors.Join(errs...)
	if err == nil || !d.IsRetryable(err) {
		d.forget(key)
	}
	return err
}

// IsRetryable reports whether the error is temporary or caused by an open
// breaker. The breaker closes again on its own.
func (d *Dispatcher) IsRetryable(err error) bool {
	return errors.Is(err, ErrTemporary) || errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen)
}

func (d *Dispatcher) alreadyDelivered(key, notifier string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.delivered[key][notifier]
}

func (d *Dispatcher) markDelivered(key, notifier string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.delivered) >= maxTrackedDeliveries {
		d.delivered = make(map[string]map[string]bool)
	}
	if d.delivered[key] == nil {
		d.delivered[key] = make(map[string]bool)
	}
	d.delivered[key][notifier] = true
}

func (d *Dispatcher) forget(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.delivered, key)
}
