package transmission

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/cache"
	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/mqtt"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
)

// Client is the part of the MQTT client a transmitter needs.
type Client interface {
	mqtt.Publisher
	IsConnected() bool
}

// MQTTTransmitter publishes trip projections to Home Assistant via MQTT
type MQTTTransmitter struct {
	client          Client
	deviceID        string
	discoveryPrefix string
	version         string
	logger          *logrus.Logger
	cache           *cache.Manager

	mu        sync.Mutex
	published map[string]bool // vehicles with discovery configs out
}

// NewMQTTTransmitter creates a new MQTT transmitter
func NewMQTTTransmitter(client Client, deviceID, discoveryPrefix, version string, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:          client,
		deviceID:        deviceID,
		discoveryPrefix: discoveryPrefix,
		version:         version,
		logger:          logger,
		cache:           cache.NewManager(),
		published:       make(map[string]bool),
	}
}

// TransmitCurrent publishes the current-trip state and attributes.
func (t *MQTTTransmitter) TransmitCurrent(v settings.Vehicle, current domain.CurrentTrip) error {
	if err := t.ready(v); err != nil {
		return err
	}

	if err := t.publishIfChanged(v.ID, currentStateTopic(t.deviceID, v.ID), []byte(current.State)); err != nil {
		return fmt.Errorf("failed to publish current trip state: %w", err)
	}

	var attrs any = map[string]any{}
	if current.Snapshot != nil {
		attrs = current.Snapshot
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal current trip: %w", err)
	}
	if err := t.publishIfChanged(v.ID, currentAttributesTopic(t.deviceID, v.ID), payload); err != nil {
		return fmt.Errorf("failed to publish current trip attributes: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"vehicle": v.ID,
		"state":   current.State,
	}).Debug("Published current trip")
	return nil
}

// TransmitLast publishes the last finished trip.
func (t *MQTTTransmitter) TransmitLast(v settings.Vehicle, last domain.Record) error {
	if err := t.ready(v); err != nil {
		return err
	}

	payload, err := json.Marshal(last)
	if err != nil {
		return fmt.Errorf("failed to marshal last trip: %w", err)
	}
	if err := t.publishIfChanged(v.ID, lastTripTopic(t.deviceID, v.ID), payload); err != nil {
		return fmt.Errorf("failed to publish last trip: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"vehicle": v.ID,
		"trip_id": last.TripID,
	}).Info("Published last trip")
	return nil
}

// Remove clears the retained discovery configs and states of a vehicle so
// Home Assistant drops its entities.
func (t *MQTTTransmitter) Remove(v settings.Vehicle) error {
	var firstErr error
	for _, e := range t.entities(v) {
		topic := mqtt.DiscoveryTopic(t.discoveryPrefix, e.component, t.deviceID, e.objectID)
		if err := t.client.Publish(topic, nil, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to clear discovery config %s: %w", topic, err)
		}
	}
	for _, topic := range []string{
		currentStateTopic(t.deviceID, v.ID),
		currentAttributesTopic(t.deviceID, v.ID),
		lastTripTopic(t.deviceID, v.ID),
	} {
		if err := t.client.Publish(topic, nil, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to clear %s: %w", topic, err)
		}
	}

	t.mu.Lock()
	delete(t.published, v.ID)
	t.mu.Unlock()
	t.cache.Forget(v.ID + "|")

	t.logger.WithField("vehicle", v.ID).Info("Removed Home Assistant entities")
	return firstErr
}

// IsConnected checks if the MQTT client is connected
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *MQTTTransmitter) ready(v settings.Vehicle) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if err := t.publishDiscoveryConfigs(v); err != nil {
		// Log error but don't block the state publish
		t.logger.WithError(err).WithField("vehicle", v.ID).Error("Failed to publish Home Assistant discovery configs")
	}
	return nil
}

// publishDiscoveryConfigs publishes the discovery configs of a vehicle once.
func (t *MQTTTransmitter) publishDiscoveryConfigs(v settings.Vehicle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.published[v.ID] {
		return nil
	}

	for _, e := range t.entities(v) {
		topic := mqtt.DiscoveryTopic(t.discoveryPrefix, e.component, t.deviceID, e.objectID)
		if err := t.publishConfigRaw(topic, e.config); err != nil {
			return fmt.Errorf("failed to publish %s discovery config: %w", e.config.Name, err)
		}
		t.logger.WithFields(logrus.Fields{
			"vehicle": v.ID,
			"entity":  e.objectID,
			"topic":   topic,
		}).Info("Published discovery config")
	}
	if err := t.client.Publish(mqtt.AvailabilityTopic(t.deviceID), []byte("online"), true); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}

	t.published[v.ID] = true
	return nil
}

// publishConfigRaw publishes a raw configuration object
func (t *MQTTTransmitter) publishConfigRaw(topic string, config interface{}) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish discovery config to %s: %w", topic, err)
	}
	return nil
}

// publishIfChanged publishes a retained payload unless the identical payload
// was the last one sent to that topic. A failed publish is retried next time.
// Keys are prefixed with the vehicle id so Remove can forget them at once.
func (t *MQTTTransmitter) publishIfChanged(vehicleID, topic string, payload []byte) error {
	key := vehicleID + "|" + topic
	if !t.cache.Changed(key, payload) {
		return nil
	}
	if err := t.client.Publish(topic, payload, true); err != nil {
		t.cache.Forget(key)
		return err
	}
	return nil
}
