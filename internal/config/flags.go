package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const envPrefix = "EV_TRIP_"

// Parse reads command line flags, falling back to EV_TRIP_* environment
// variables, on top of the defaults. It reports whether -version was given.
func Parse(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, bool, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(name, def string) string {
		if v := getenv(envPrefix + name); v != "" {
			return v
		}
		return def
	}

	cfg := GetDefaultConfig()
	showVersion := fs.Bool("version", false, "Show version and exit")

	fs.StringVar(&cfg.MQTTUrl, "mqtt-url", env("MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	fs.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", env("DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	fs.StringVar(&cfg.DeviceID, "device-id", env("DEVICE_ID", cfg.DeviceID), "Device identifier")
	fs.BoolVar(&cfg.Verbose, "verbose", env("VERBOSE", "false") == "true", "Verbose logging")
	fs.StringVar(&cfg.SettingsFile, "settings-file", env("SETTINGS_FILE", cfg.SettingsFile), "Vehicle settings file")

	fs.StringVar(&cfg.Source, "source", env("SOURCE", cfg.Source), "Observation source (mqtt or rest)")
	fs.StringVar(&cfg.StatestreamPrefix, "statestream-prefix", env("STATESTREAM_PREFIX", cfg.StatestreamPrefix), "HA mqtt_statestream base topic")
	fs.StringVar(&cfg.HassURL, "hass-url", env("HASS_URL", cfg.HassURL), "Home Assistant URL")
	fs.StringVar(&cfg.HassToken, "hass-token", env("HASS_TOKEN", cfg.HassToken), "Home Assistant long-lived access token")
	pollInterval := fs.String("poll-interval", env("POLL_INTERVAL", ""), "REST poll interval (e.g. 10s)")

	fs.StringVar(&cfg.GeodataProvider, "geodata-provider", env("GEODATA_PROVIDER", cfg.GeodataProvider), "Geodata provider (open-meteo, open-elevation, none)")
	fs.StringVar(&cfg.GeodataURL, "geodata-url", env("GEODATA_URL", cfg.GeodataURL), "Geodata provider base URL")
	geodataTimeout := fs.String("geodata-timeout", env("GEODATA_TIMEOUT", ""), "Geodata lookup timeout (e.g. 10s)")
	fs.StringVar(&cfg.TemperatureUnit, "temperature-unit", env("TEMPERATURE_UNIT", cfg.TemperatureUnit), "celsius or fahrenheit")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", env("REDIS_ADDR", cfg.RedisAddr), "Redis address for the last trip store")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env("REDIS_PASSWORD", cfg.RedisPassword), "Redis password")
	redisDB := fs.String("redis-db", env("REDIS_DB", "0"), "Redis database")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", env("POSTGRES_DSN", cfg.PostgresDSN), "Postgres DSN for trip history")

	fs.StringVar(&cfg.HTTPAddr, "http-addr", env("HTTP_ADDR", cfg.HTTPAddr), "HTTP API listen address (empty disables)")
	fs.BoolVar(&cfg.InsecureTLS, "insecure-tls", env("INSECURE_TLS", "false") == "true", "Skip TLS certificate verification")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	// Duration overrides
	if *pollInterval != "" {
		d, err := parseDuration(*pollInterval)
		if err != nil {
			return nil, false, fmt.Errorf("invalid poll interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if *geodataTimeout != "" {
		d, err := parseDuration(*geodataTimeout)
		if err != nil {
			return nil, false, fmt.Errorf("invalid geodata timeout: %w", err)
		}
		cfg.GeodataTimeout = d
	}
	db, err := strconv.Atoi(*redisDB)
	if err != nil {
		return nil, false, fmt.Errorf("invalid redis db: %w", err)
	}
	cfg.RedisDB = db

	return cfg, *showVersion, nil
}

// parseDuration accepts Go durations (10s) and bare seconds (10).
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a duration nor seconds", s)
	}
	return time.Duration(v) * time.Second, nil
}
