package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/app"
	"github.com/jkaberg/ev-trip-tracker/internal/bus"
	"github.com/jkaberg/ev-trip-tracker/internal/config"
	"github.com/jkaberg/ev-trip-tracker/internal/geodata"
	"github.com/jkaberg/ev-trip-tracker/internal/hass"
	"github.com/jkaberg/ev-trip-tracker/internal/httpapi"
	"github.com/jkaberg/ev-trip-tracker/internal/mqtt"
	"github.com/jkaberg/ev-trip-tracker/internal/netutil"
	"github.com/jkaberg/ev-trip-tracker/internal/notify"
	"github.com/jkaberg/ev-trip-tracker/internal/observe"
	"github.com/jkaberg/ev-trip-tracker/internal/publish"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
	"github.com/jkaberg/ev-trip-tracker/internal/store"
	"github.com/jkaberg/ev-trip-tracker/internal/transmission"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	cfg, showVersion, err := config.Parse(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("ev-trip-tracker %s\n", version)
		os.Exit(0)
	}

	logger := setupLogger(cfg.Verbose)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("ev-trip-tracker stopped with an error")
		os.Exit(1)
	}
	logger.Info("ev-trip-tracker stopped")
}

// run wires every component and blocks until shutdown.
func run(cfg *config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"version":   version,
		"device_id": cfg.DeviceID,
		"source":    cfg.Source,
		"settings":  cfg.SettingsFile,
	}).Info("Starting ev-trip-tracker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Settings -------------------------------------------------------------------
	settingsStore, err := settings.Load(cfg.SettingsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to load vehicle settings: %w", err)
	}
	settingsStore.Watch()
	logger.WithField("vehicles", len(settingsStore.Current().Vehicles)).Info("Vehicle settings loaded")

	// Core clients ---------------------------------------------------------------
	var mqttClient *mqtt.Client
	if cfg.HasMQTT() {
		mqttClient, err = mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, cfg.InsecureTLS, logger)
		if err != nil {
			return fmt.Errorf("failed to create MQTT client: %w", err)
		}
		defer mqttClient.Disconnect(config.MQTTDisconnectQuiesce)
	}

	checks := map[string]httpapi.Check{}

	var source observe.Source
	switch cfg.Source {
	case config.SourceMQTT:
		source = observe.NewMQTTSource(mqttClient, cfg.StatestreamPrefix, logger)
	case config.SourceREST:
		hassClient := hass.NewClient(cfg.HassURL, cfg.HassToken,
			netutil.NewHTTPClient(config.HassTimeout, cfg.InsecureTLS, logger), logger)
		source = observe.NewPollingSource(hassClient, cfg.PollInterval, logger)
		checks["home_assistant"] = func(ctx context.Context) error {
			if !hassClient.IsHealthy(ctx) {
				return errors.New("API not reachable")
			}
			return nil
		}
	}

	fetcher, err := geodata.New(geodata.Options{
		Provider:        cfg.GeodataProvider,
		BaseURL:         cfg.GeodataURL,
		TemperatureUnit: cfg.TemperatureUnit,
		HTTPClient:      netutil.NewHTTPClient(cfg.GeodataTimeout, cfg.InsecureTLS, logger),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create geodata fetcher: %w", err)
	}

	// Stores ---------------------------------------------------------------------
	pubOpts := publish.Options{Settings: settingsStore, Logger: logger}

	if cfg.HasRedis() {
		startCtx, startCancel := context.WithTimeout(ctx, config.StartupTimeout)
		redisClient, err := store.NewRedisClient(startCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		startCancel()
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		lastTrips := store.NewRedisLastTrips(redisClient)
		pubOpts.LastTrips = lastTrips
		checks["redis"] = lastTrips.Ping
		logger.Info("Last trip store ready (redis)")
	}

	if cfg.HasPostgres() {
		startCtx, startCancel := context.WithTimeout(ctx, config.StartupTimeout)
		pool, err := store.ConnectPostgres(startCtx, cfg.PostgresDSN)
		if err != nil {
			startCancel()
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		defer pool.Close()
		history := store.NewPostgresHistory(pool)
		err = history.EnsureSchema(startCtx)
		startCancel()
		if err != nil {
			return fmt.Errorf("failed to prepare trip history schema: %w", err)
		}
		pubOpts.History = history
		checks["postgres"] = pool.Ping
		logger.Info("Trip history ready (postgres)")
	}

	// Transmitters and notifiers -------------------------------------------------
	events := notify.NewFanout(bus.New[notify.Event]())
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}

	if mqttClient != nil {
		mqttTx := transmission.NewMQTTTransmitter(mqttClient, cfg.DeviceID, cfg.DiscoveryPrefix, version, logger)
		pubOpts.Transmitters = append(pubOpts.Transmitters, mqttTx)
		notifiers = append(notifiers, notify.NewMQTTNotifier(mqttClient, cfg.DeviceID, logger))
		checks["mqtt"] = func(context.Context) error {
			if !mqttTx.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
		logger.Info("MQTT transmitter ready")
	} else {
		logger.Warn("No MQTT broker configured; trips are only logged and served over HTTP")
	}
	// In-process subscribers go last so they never hold up the MQTT event.
	notifiers = append(notifiers, events)
	pubOpts.Notifier = notifiers

	publisher := publish.New(pubOpts)

	// Run application ------------------------------------------------------------
	var runners []app.Runner
	application := app.New(app.Options{
		Source:    source,
		Settings:  settingsStore,
		Publisher: publisher,
		Fetcher:   fetcher,
		Logger:    logger,
	})

	if cfg.HasHTTP() {
		server := httpapi.NewServer(httpapi.Options{
			Projections: publisher,
			Vehicles:    application,
			Events:      events,
			Checks:      checks,
			Logger:      logger,
		})
		runners = append(runners, func(ctx context.Context) error {
			return server.Run(ctx, cfg.HTTPAddr, config.ShutdownTimeout)
		})
	}
	application.SetRunners(runners...)

	return application.Run(ctx)
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
