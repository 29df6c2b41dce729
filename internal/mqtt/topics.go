package mqtt

import (
	"fmt"
	"strings"
)

// BaseTopic is the root of everything this device publishes.
func BaseTopic(deviceID string) string {
	return fmt.Sprintf("ev_trip_tracker/%s", deviceID)
}

// AvailabilityTopic carries the retained online/offline status.
func AvailabilityTopic(deviceID string) string {
	return BaseTopic(deviceID) + "/availability"
}

// VehicleTopic returns a topic below the device for one vehicle.
func VehicleTopic(deviceID, vehicleID string, parts ...string) string {
	return BuildCleanTopic(append([]string{"ev_trip_tracker", deviceID, vehicleID}, parts...)...)
}

// DiscoveryTopic returns the Home Assistant discovery config topic.
func DiscoveryTopic(prefix, component, deviceID, objectID string) string {
	return fmt.Sprintf("%s/%s/ev_trip_tracker_%s/%s/config", prefix, component, deviceID, objectID)
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}

// EventTopic carries trip events for one vehicle.
func EventTopic(deviceID, vehicleID string) string {
	return VehicleTopic(deviceID, vehicleID, "event")
}
