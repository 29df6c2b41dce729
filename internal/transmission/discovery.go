package transmission

import (
	"fmt"

	"github.com/jkaberg/ev-trip-tracker/internal/mqtt"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
)

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	ObjectID            string   `json:"object_id,omitempty"`
	StateTopic          string   `json:"state_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	JSONAttributesTopic string   `json:"json_attributes_topic,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	UnitOfMeasurement   string   `json:"unit_of_measurement,omitempty"`
	EventTypes          []string `json:"event_types,omitempty"`
	Device              HADevice `json:"device"`
	AvailabilityTopic   string   `json:"availability_topic"`
	Icon                string   `json:"icon,omitempty"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// entity is one Home Assistant entity published for a vehicle.
type entity struct {
	component string
	objectID  string
	config    HADiscoveryConfig
}

// EventTypeTripCompleted is the event_type of the per-vehicle event entity.
const EventTypeTripCompleted = "trip_completed"

func currentStateTopic(deviceID, vehicleID string) string {
	return mqtt.VehicleTopic(deviceID, vehicleID, "current_trip", "state")
}

func currentAttributesTopic(deviceID, vehicleID string) string {
	return mqtt.VehicleTopic(deviceID, vehicleID, "current_trip", "attributes")
}

func lastTripTopic(deviceID, vehicleID string) string {
	return mqtt.VehicleTopic(deviceID, vehicleID, "last_trip")
}

// entities lists the discovery configs for a vehicle: the current-trip and
// last-trip sensors plus the trip event entity.
func (t *MQTTTransmitter) entities(v settings.Vehicle) []entity {
	device := HADevice{
		Identifiers:  []string{fmt.Sprintf("ev_trip_tracker_%s_%s", t.deviceID, v.ID)},
		Name:         v.DisplayName(),
		Model:        "Trip Tracker",
		Manufacturer: "ev-trip-tracker",
		SWVersion:    t.version,
	}
	availability := mqtt.AvailabilityTopic(t.deviceID)
	lastTopic := lastTripTopic(t.deviceID, v.ID)

	return []entity{
		{
			component: "sensor",
			objectID:  v.ID + "_current_trip",
			config: HADiscoveryConfig{
				Name:                "Current Trip",
				UniqueID:            fmt.Sprintf("%s_%s_current_trip", t.deviceID, v.ID),
				ObjectID:            v.ID + "_current_trip",
				StateTopic:          currentStateTopic(t.deviceID, v.ID),
				JSONAttributesTopic: currentAttributesTopic(t.deviceID, v.ID),
				Device:              device,
				AvailabilityTopic:   availability,
				Icon:                "mdi:car-electric",
			},
		},
		{
			component: "sensor",
			objectID:  v.ID + "_last_trip",
			config: HADiscoveryConfig{
				Name:                "Last Trip",
				UniqueID:            fmt.Sprintf("%s_%s_last_trip", t.deviceID, v.ID),
				ObjectID:            v.ID + "_last_trip",
				StateTopic:          lastTopic,
				ValueTemplate:       "{{ value_json.distance | default(None) }}",
				JSONAttributesTopic: lastTopic,
				DeviceClass:         "distance",
				UnitOfMeasurement:   "km",
				Device:              device,
				AvailabilityTopic:   availability,
				Icon:                "mdi:map-marker-distance",
			},
		},
		{
			component: "event",
			objectID:  v.ID + "_trip",
			config: HADiscoveryConfig{
				Name:              "Trip",
				UniqueID:          fmt.Sprintf("%s_%s_trip_event", t.deviceID, v.ID),
				ObjectID:          v.ID + "_trip",
				StateTopic:        mqtt.EventTopic(t.deviceID, v.ID),
				EventTypes:        []string{EventTypeTripCompleted},
				Device:            device,
				AvailabilityTopic: availability,
				Icon:              "mdi:flag-checkered",
			},
		},
	}
}
