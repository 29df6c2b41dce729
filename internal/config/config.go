package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Observation source kinds.
const (
	SourceMQTT = "mqtt"
	SourceREST = "rest"
)

// Config holds all configuration options for the ev-trip-tracker daemon.
// Per-vehicle settings live in the settings file, not here.
type Config struct {
	// MQTT Configuration
	MQTTUrl         string `json:"mqtt_url"`         // MQTT URL (supports both WebSocket and standard MQTT)
	DiscoveryPrefix string `json:"discovery_prefix"` // Home Assistant discovery prefix

	// Device Configuration
	DeviceID string `json:"device_id"` // Unique identifier of this tracker instance

	// Application Configuration
	Verbose      bool   `json:"verbose"`       // Enable verbose logging
	SettingsFile string `json:"settings_file"` // Vehicle settings file (yaml, json or toml)

	// Observation source
	Source            string        `json:"source"`             // mqtt (statestream) or rest (polling)
	StatestreamPrefix string        `json:"statestream_prefix"` // base topic of HA mqtt_statestream
	HassURL           string        `json:"hass_url"`           // Home Assistant base URL
	HassToken         string        `json:"hass_token"`         // long-lived access token
	PollInterval      time.Duration `json:"poll_interval"`      // REST poll interval

	// Geodata
	GeodataProvider string        `json:"geodata_provider"` // open-meteo, open-elevation or none
	GeodataURL      string        `json:"geodata_url"`      // provider base URL override
	GeodataTimeout  time.Duration `json:"geodata_timeout"`  // per lookup
	TemperatureUnit string        `json:"temperature_unit"` // celsius or fahrenheit

	// Storage
	RedisAddr     string `json:"redis_addr"`     // last trip store, disabled when empty
	RedisPassword string `json:"redis_password"` //
	RedisDB       int    `json:"redis_db"`       //
	PostgresDSN   string `json:"postgres_dsn"`   // trip history, disabled when empty

	// HTTP API
	HTTPAddr string `json:"http_addr"` // read API listen address, disabled when empty

	InsecureTLS bool `json:"insecure_tls"` // skip TLS verification for MQTT and HTTP
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		DiscoveryPrefix:   "homeassistant",
		DeviceID:          DefaultDeviceID,
		SettingsFile:      "settings.yaml",
		Source:            SourceMQTT,
		StatestreamPrefix: "homeassistant_states",
		PollInterval:      DefaultPollInterval,
		GeodataProvider:   "open-meteo",
		GeodataTimeout:    GeodataTimeout,
		TemperatureUnit:   "celsius",
		HTTPAddr:          ":8080",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if c.SettingsFile == "" {
		return fmt.Errorf("settings file is required")
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	switch c.Source {
	case SourceMQTT:
		if c.MQTTUrl == "" {
			return fmt.Errorf("MQTT URL is required when source is %q", SourceMQTT)
		}
		if c.StatestreamPrefix == "" {
			return fmt.Errorf("statestream prefix is required when source is %q", SourceMQTT)
		}
	case SourceREST:
		if c.HassURL == "" || c.HassToken == "" {
			return fmt.Errorf("Home Assistant URL and token are required when source is %q", SourceREST)
		}
		if c.PollInterval < MinPollInterval {
			return fmt.Errorf("poll interval must be at least %s", MinPollInterval)
		}
	default:
		return fmt.Errorf("unsupported source: %s (supported: %s, %s)", c.Source, SourceMQTT, SourceREST)
	}

	if c.HassURL != "" {
		u, err := url.Parse(c.HassURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("Home Assistant URL must be an http:// or https:// URL")
		}
	}

	switch c.TemperatureUnit {
	case "celsius", "fahrenheit":
	default:
		return fmt.Errorf("temperature unit must be celsius or fahrenheit")
	}

	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}

	// Set defaults for invalid values
	if c.GeodataTimeout <= 0 {
		c.GeodataTimeout = GeodataTimeout
	}

	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}

// HasRedis returns true if the last trip store is configured
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// HasPostgres returns true if trip history is configured
func (c *Config) HasPostgres() bool {
	return c.PostgresDSN != ""
}

// HasHTTP returns true if the read API should be served
func (c *Config) HasHTTP() bool {
	return c.HTTPAddr != ""
}
