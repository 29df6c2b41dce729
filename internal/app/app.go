package app

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jkaberg/ev-trip-tracker/internal/geodata"
	"github.com/jkaberg/ev-trip-tracker/internal/observe"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
	"github.com/jkaberg/ev-trip-tracker/internal/trip"
)

// Settings is the vehicle settings store.
type Settings interface {
	Current() settings.Snapshot
	OnChange(fn func(settings.Snapshot))
}

// Publisher is the projection owner trackers publish to.
type Publisher interface {
	trip.Publisher
	Restore(ctx context.Context, vehicleIDs []string)
	Remove(ctx context.Context, v settings.Vehicle)
	Run(ctx context.Context) error
}

// Runner is an extra background service, such as the HTTP API.
type Runner func(ctx context.Context) error

// Options wires an App.
type Options struct {
	Source    observe.Source
	Settings  Settings
	Publisher Publisher
	Fetcher   geodata.Fetcher
	Scheduler trip.Scheduler
	Now       func() time.Time
	Runners   []Runner
	Logger    *logrus.Logger
}

// App keeps one tracker per configured vehicle and follows settings changes.
type App struct {
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	ctx      context.Context
	trackers map[string]*trip.Tracker
	stopped  bool
}

// New returns an App. Run starts it.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &App{
		opts:     opts,
		logger:   opts.Logger,
		trackers: make(map[string]*trip.Tracker),
	}
}

// SetRunners replaces the extra runners. Call it before Run.
func (a *App) SetRunners(runners ...Runner) {
	a.opts.Runners = runners
}

// Run starts a tracker for every vehicle, runs the source, the publisher and
// any extra runners, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(parentCtx context.Context) error {
	grp, ctx := errgroup.WithContext(parentCtx)

	a.start(ctx)
	defer a.stop()

	grp.Go(func() error {
		return a.opts.Source.Run(ctx)
	})
	grp.Go(func() error {
		return a.opts.Publisher.Run(ctx)
	})
	for _, run := range a.opts.Runners {
		run := run
		grp.Go(func() error { return run(ctx) })
	}

	err := grp.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Error("app: background group exited")
		return err
	}
	return nil
}

// Vehicles returns the vehicles being tracked, sorted by id.
func (a *App) Vehicles() []settings.Vehicle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]settings.Vehicle, 0, len(a.trackers))
	for _, t := range a.trackers {
		out = append(out, t.Vehicle())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tracker returns the tracker of a vehicle.
func (a *App) Tracker(vehicleID string) (*trip.Tracker, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.trackers[vehicleID]
	return t, ok
}

func (a *App) start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.Apply(a.opts.Settings.Current())
	a.opts.Settings.OnChange(a.Apply)
}

func (a *App) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for id, t := range a.trackers {
		t.Teardown()
		delete(a.trackers, id)
	}
	a.logger.Info("app: trackers stopped")
}

// Apply reconciles the running trackers with snap: new vehicles get a
// tracker with its last trip restored, removed ones are torn down and
// changed ones are updated in place.
func (a *App) Apply(snap settings.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.ctx == nil {
		return
	}

	want := make(map[string]settings.Vehicle, len(snap.Vehicles))
	for _, v := range snap.Vehicles {
		want[v.ID] = v
	}

	for id, t := range a.trackers {
		if _, ok := want[id]; ok {
			continue
		}
		v := t.Vehicle()
		t.Teardown()
		delete(a.trackers, id)
		a.opts.Publisher.Remove(a.ctx, v)
		a.logger.WithField("vehicle", id).Info("app: vehicle removed")
	}

	for _, v := range snap.Vehicles {
		a.opts.Source.Watch(v.SourceIDs()...)
		if t, ok := a.trackers[v.ID]; ok {
			if !reflect.DeepEqual(t.Vehicle(), v) {
				t.UpdateSettings(v)
				a.logger.WithField("vehicle", v.ID).Info("app: vehicle settings updated")
			}
			continue
		}
		a.opts.Publisher.Restore(a.ctx, []string{v.ID})
		t := trip.New(a.ctx, trip.Options{
			Vehicle:   v,
			Source:    a.opts.Source,
			Fetcher:   a.opts.Fetcher,
			Publisher: a.opts.Publisher,
			Scheduler: a.opts.Scheduler,
			Now:       a.opts.Now,
			Logger:    a.logger,
		})
		a.trackers[v.ID] = t
		t.Start()
		a.logger.WithFields(logrus.Fields{
			"vehicle": v.ID,
			"name":    v.DisplayName(),
		}).Info("app: vehicle added")
	}
}
