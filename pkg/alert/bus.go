// Package alert delivers uncorrelated, typed events to local subscribers and
// forwards them across process boundaries.
package alert

import (
	"sync"

	"github.com/grovetools/appshell/logging"
	"github.com/grovetools/appshell/pkg/ipc"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Handler receives an alert message.
type Handler func(msg *protocol.Message)

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

// StatusProvider returns the status snapshot attached to alerts.
type StatusProvider func() *protocol.Status

type subscription struct {
	id        SubscriptionID
	alertType string // empty matches every type
	handler   Handler
}

// Bus is a synchronous in-process alert dispatcher. Handlers run on the
// publishing goroutine in registration order.
type Bus struct {
	logger *logrus.Entry

	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
	status StatusProvider
}

// NewBus creates a bus. status may be nil when alerts never carry status.
func NewBus(status StatusProvider) *Bus {
	return &Bus{
		logger: logging.NewLogger("alert"),
		status: status,
	}
}

// SetStatusProvider replaces the status provider.
func (b *Bus) SetStatusProvider(p StatusProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = p
}

// Publish builds an alert and dispatches it. When isError is true and
// payload is an error, it is serialized preserving its kind. includeStatus
// attaches a fresh snapshot from the status provider.
func (b *Bus) Publish(alertType string, payload interface{}, isError, includeStatus bool) error {
	var status *protocol.Status
	if includeStatus {
		b.mu.RLock()
		provider := b.status
		b.mu.RUnlock()
		if provider != nil {
			status = provider()
		}
	}

	msg, err := protocol.NewAlert(alertType, payload, isError, status)
	if err != nil {
		b.logger.WithError(err).WithField("type", alertType).Error("Failed to build alert")
		return err
	}
	b.Dispatch(msg)
	return nil
}

// Dispatch delivers an already built alert, for example one received from
// another process, to the matching subscribers.
func (b *Bus) Dispatch(msg *protocol.Message) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.alertType == "" || s.alertType == msg.Type {
			s.handler(msg)
		}
	}
}

// Subscribe registers a handler for one alert type.
func (b *Bus) Subscribe(alertType string, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, alertType: alertType, handler: h})
	return b.nextID
}

// SubscribeAll registers a handler for every alert type.
func (b *Bus) SubscribeAll(h Handler) SubscriptionID {
	return b.Subscribe("", h)
}

// Unsubscribe removes a subscription. It reports whether one was removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Error restores the structured error carried by an error alert.
func Error(msg *protocol.Message) error {
	return msg.Err()
}

// Forward subscribes a forwarder that sends every alert through t. Alerts
// published while t is disconnected are dropped.
func Forward(b *Bus, t ipc.Transport) SubscriptionID {
	return b.SubscribeAll(func(msg *protocol.Message) {
		if !t.Connected() {
			b.logger.WithField("type", msg.Type).Debug("Dropping alert, boundary not connected")
			return
		}
		if err := t.Send(msg); err != nil {
			b.logger.WithError(err).WithField("type", msg.Type).Error("An error occurred when forwarding an alert.")
		}
	})
}
