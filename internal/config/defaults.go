package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/jkaberg/ev-trip-tracker/internal/config.

const (
	DefaultDeviceID = "ev_trip_tracker"

	// Polling
	DefaultPollInterval = 10 * time.Second // Poll the HA REST API
	MinPollInterval     = time.Second

	// Operation time-outs (to avoid blocking goroutines)
	GeodataTimeout  = 10 * time.Second // Elevation/weather lookup
	HassTimeout     = 10 * time.Second // HA REST call
	StartupTimeout  = 15 * time.Second // Connecting stores at startup
	ShutdownTimeout = 5 * time.Second  // HTTP server drain

	// MQTT
	MQTTDisconnectQuiesce = 250 // milliseconds
)
