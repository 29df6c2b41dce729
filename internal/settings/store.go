package settings

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Store holds the current settings snapshot and notifies hooks when the
// settings file changes. A reload that fails validation is logged and
// discarded; the previous snapshot stays in force.
type Store struct {
	v      *viper.Viper
	logger *logrus.Logger

	mu      sync.RWMutex
	current Snapshot
	hooks   []func(Snapshot)
}

// Load reads and validates the settings file. The format is taken from the
// file extension (yaml, json, toml, ...).
func Load(path string, logger *logrus.Logger) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)

	s := &Store{v: v, logger: logger}
	snap, err := s.read()
	if err != nil {
		return nil, err
	}
	s.current = snap
	return s, nil
}

// NewStatic returns a store that never reloads. Useful for embedding and tests.
func NewStatic(snap Snapshot, logger *logrus.Logger) (*Store, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &Store{logger: logger, current: snap}, nil
}

// Current returns the active snapshot.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnChange registers fn to be called with every accepted new snapshot.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Watch starts watching the settings file for changes.
func (s *Store) Watch() {
	if s.v == nil {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.WithFields(logrus.Fields{
			"file": e.Name,
			"op":   e.Op.String(),
		}).Info("settings: file changed, reloading")
		if err := s.Reload(); err != nil {
			s.logger.WithError(err).Warn("settings: reload rejected, keeping previous settings")
		}
	})
	s.v.WatchConfig()
}

// Reload re-reads the file and, when valid, swaps the snapshot and runs the
// change hooks.
func (s *Store) Reload() error {
	if s.v == nil {
		return nil
	}
	snap, err := s.read()
	if err != nil {
		return err
	}
	s.Replace(snap)
	return nil
}

// Replace installs snap and runs the change hooks. snap must be valid.
func (s *Store) Replace(snap Snapshot) {
	s.mu.Lock()
	s.current = snap
	hooks := make([]func(Snapshot), len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

func (s *Store) read() (Snapshot, error) {
	if err := s.v.ReadInConfig(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var raw struct {
		Vehicles []vehicleFile `mapstructure:"vehicles"`
	}
	if err := s.v.Unmarshal(&raw); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode settings: %w", err)
	}

	snap := Snapshot{Vehicles: make([]Vehicle, 0, len(raw.Vehicles))}
	for i, vf := range raw.Vehicles {
		snap.Vehicles = append(snap.Vehicles, vf.withDefaults(i))
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid settings: %w", err)
	}
	return snap, nil
}
