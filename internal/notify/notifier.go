package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/bus"
	"github.com/jkaberg/ev-trip-tracker/internal/mqtt"
)

// Event is a domain notification for external automation consumers.
type Event struct {
	Name      string `json:"event"`      // e.g. ev_trip_tracker_trip_completed
	Type      string `json:"event_type"` // short type used by the HA event entity
	VehicleID string `json:"vehicle_id"`
	Payload   any    `json:"data"`
}

// Notifier delivers events. Delivery is fire-and-forget: callers log the
// error and carry on.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// MQTTNotifier publishes events to the per-vehicle event topic that backs the
// Home Assistant event entity. The payload is the event data with an
// event_type key merged in.
type MQTTNotifier struct {
	client   mqtt.Publisher
	deviceID string
	logger   *logrus.Logger
}

// NewMQTTNotifier returns a notifier publishing through client.
func NewMQTTNotifier(client mqtt.Publisher, deviceID string, logger *logrus.Logger) *MQTTNotifier {
	return &MQTTNotifier{client: client, deviceID: deviceID, logger: logger}
}

// Notify publishes ev, not retained.
func (n *MQTTNotifier) Notify(_ context.Context, ev Event) error {
	body := map[string]any{}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			body = map[string]any{"data": json.RawMessage(raw)}
		}
	}
	body["event_type"] = ev.Type

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	topic := mqtt.EventTopic(n.deviceID, ev.VehicleID)
	if err := n.client.Publish(topic, payload, false); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", ev.Name, err)
	}
	n.logger.WithFields(logrus.Fields{
		"event":   ev.Name,
		"vehicle": ev.VehicleID,
		"topic":   topic,
	}).Debug("Published event")
	return nil
}

// LogNotifier writes events to the log. It is the fallback when no broker
// is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs ev.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.WithFields(logrus.Fields{
		"event":   ev.Name,
		"vehicle": ev.VehicleID,
	}).Info("event fired")
	return nil
}

// Fanout hands events to in-process subscribers through a bus. Delivery
// never blocks: a subscriber whose buffer is full misses the event.
type Fanout struct {
	bus *bus.Bus[Event]
}

// NewFanout returns a notifier backed by b.
func NewFanout(b *bus.Bus[Event]) *Fanout {
	return &Fanout{bus: b}
}

// Notify publishes ev on the bus and reports subscribers that lagged.
func (f *Fanout) Notify(_ context.Context, ev Event) error {
	if dropped := f.bus.TryPublish(ev); dropped > 0 {
		return fmt.Errorf("event %s dropped for %d lagging subscribers", ev.Name, dropped)
	}
	return nil
}

// Subscribe registers an in-process consumer. Call Unsubscribe when done.
func (f *Fanout) Subscribe(buffer int) *bus.Subscription[Event] {
	return f.bus.Subscribe(buffer)
}

// Unsubscribe removes a consumer.
func (f *Fanout) Unsubscribe(s *bus.Subscription[Event]) {
	f.bus.Unsubscribe(s)
}

// Multi sends every event to all notifiers and joins their errors.
type Multi []Notifier

// Notify delivers ev to each notifier in order.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
