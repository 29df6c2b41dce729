package trip

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/geodata"
	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
)

// Source is the observation source a tracker reads from.
//
// The unsubscribe function must not wait for an in-flight callback to
// return; callbacks take the tracker lock.
type Source interface {
	Subscribe(ids []string, fn func(sensors.Change)) (unsubscribe func())
	Current(id string) (*sensors.Observation, bool)
}

// Publisher receives the projections a tracker produces. Implementations
// must not block for long; they are called with the tracker lock held so
// updates reach them in order.
type Publisher interface {
	PublishCurrent(ctx context.Context, vehicleID string, current domain.CurrentTrip)
	Complete(ctx context.Context, record domain.Record)
}

// Options wires a Tracker.
type Options struct {
	Vehicle   settings.Vehicle
	Source    Source
	Fetcher   geodata.Fetcher
	Publisher Publisher
	Scheduler Scheduler
	Now       func() time.Time
	Logger    *logrus.Logger
}

// Tracker is the trip state machine of one vehicle. Every transition runs
// under a per-vehicle mutex, including the geodata lookups of trip start and
// end, so a driving-state edge that arrives during a lookup waits for the
// transition in progress.
type Tracker struct {
	ctx       context.Context
	source    Source
	fetcher   geodata.Fetcher
	publisher Publisher
	now       func() time.Time
	logger    *logrus.Logger

	mu          sync.Mutex
	vehicle     settings.Vehicle
	state       domain.TripState
	snapshot    *domain.Snapshot
	timer       *Timer[time.Time]
	unsubscribe func()
	closed      bool
}

// New returns an idle tracker. Call Start to begin observing.
func New(ctx context.Context, opts Options) *Tracker {
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fetcher == nil {
		opts.Fetcher = geodata.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	t := &Tracker{
		ctx:       ctx,
		source:    opts.Source,
		fetcher:   opts.Fetcher,
		publisher: opts.Publisher,
		now:       opts.Now,
		logger:    opts.Logger,
		vehicle:   opts.Vehicle,
		state:     domain.StateIdle,
	}
	t.timer = NewTimer(opts.Scheduler, t.onTimer)
	return t
}

// Start subscribes to the driving-state source and publishes the idle
// projection.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.unsubscribe != nil {
		return
	}
	t.subscribeLocked()
	t.publisher.PublishCurrent(t.ctx, t.vehicle.ID, domain.Idle())
	t.log().WithField("source", t.vehicle.DrivingStateSourceID).Info("tracker: watching driving state")
}

// HandleDrivingState applies one driving-state change.
func (t *Tracker) HandleDrivingState(ctx context.Context, change sensors.Change) {
	if change.New == nil {
		t.logger.WithField("entity", change.EntityID).Debug("tracker: ignoring driving-state change without a new value")
		return
	}
	driving := sensors.IsDriving(change.New.State)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	switch {
	case driving && t.state == domain.StateIdle:
		t.timer.Cancel()
		t.startTripLocked(ctx)
	case driving:
		if t.timer.Armed() {
			t.timer.Cancel()
			t.log().WithField("trip_id", t.snapshot.TripID).Info("tracker: driving resumed, trip continues")
		}
	case t.state == domain.StateActive:
		end := t.now()
		delay := t.vehicle.TripEndDelay()
		t.timer.Arm(delay, end)
		t.log().WithFields(logrus.Fields{
			"trip_id": t.snapshot.TripID,
			"delay":   delay.String(),
		}).Info("tracker: driving stopped, trip end pending")
	}
}

// UpdateSettings replaces the vehicle settings used by later operations.
// Fields already captured in an active trip stay untouched. A changed
// driving-state source is resubscribed without ending the trip.
func (t *Tracker) UpdateSettings(v settings.Vehicle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	old := t.vehicle
	t.vehicle = v
	if old.DrivingStateSourceID != v.DrivingStateSourceID && t.unsubscribe != nil {
		t.unsubscribe()
		t.subscribeLocked()
		t.log().WithFields(logrus.Fields{
			"old": old.DrivingStateSourceID,
			"new": v.DrivingStateSourceID,
		}).Info("tracker: driving-state source changed")
	}
	t.log().Debug("tracker: settings updated")
}

// Teardown cancels the pending end and detaches from the source. No callback
// has any effect afterwards. An active trip is dropped unpublished.
func (t *Tracker) Teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.timer.Cancel()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	if t.state == domain.StateActive {
		t.log().WithField("trip_id", t.snapshot.TripID).Warn("tracker: torn down during an active trip, trip discarded")
	}
	t.log().Info("tracker: stopped")
}

// Current returns the current-trip projection.
func (t *Tracker) Current() domain.CurrentTrip {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.CurrentTrip{State: t.state, Snapshot: t.snapshot.Copy()}
}

// Vehicle returns the settings in force.
func (t *Tracker) Vehicle() settings.Vehicle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vehicle
}

// PendingEnd reports whether a trip end is waiting for its delay to expire.
func (t *Tracker) PendingEnd() bool {
	return t.timer.Armed()
}

func (t *Tracker) subscribeLocked() {
	t.unsubscribe = t.source.Subscribe([]string{t.vehicle.DrivingStateSourceID}, func(c sensors.Change) {
		t.HandleDrivingState(t.ctx, c)
	})
}

func (t *Tracker) startTripLocked(ctx context.Context) {
	r := t.readLocked(ctx)
	snap := &domain.Snapshot{
		TripID:           uuid.NewString(),
		StartTime:        t.now(),
		StartOdometer:    r.odometer,
		StartBattery:     r.battery,
		StartLatitude:    r.lat,
		StartLongitude:   r.lon,
		StartElevation:   r.geo.Elevation,
		StartTemperature: r.geo.Temperature,
	}
	t.snapshot = snap
	t.state = domain.StateActive

	t.log().WithFields(logrus.Fields{
		"trip_id":  snap.TripID,
		"odometer": fmtPtr(snap.StartOdometer),
		"battery":  fmtPtr(snap.StartBattery),
	}).Info("tracker: trip started")
	t.publisher.PublishCurrent(ctx, t.vehicle.ID, domain.CurrentTrip{State: t.state, Snapshot: snap.Copy()})
}

// onTimer finalizes the trip armed under gen. end is the instant driving
// stopped.
func (t *Tracker) onTimer(gen uint64, end time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.timer.Claim(gen) {
		return
	}
	if t.state != domain.StateActive || t.snapshot == nil {
		return
	}

	ctx := t.ctx
	r := t.readLocked(ctx)
	snap := *t.snapshot
	snap.EndTime = &end
	snap.EndOdometer = r.odometer
	snap.EndBattery = r.battery
	snap.EndLatitude = r.lat
	snap.EndLongitude = r.lon
	snap.EndElevation = r.geo.Elevation
	snap.EndTemperature = r.geo.Temperature

	record := domain.Finalize(t.vehicle.ID, snap, t.vehicle.BatteryCapacityKWh)

	t.snapshot = nil
	t.state = domain.StateIdle

	t.log().WithFields(logrus.Fields{
		"trip_id":  record.TripID,
		"distance": fmtPtr(record.Distance),
		"energy":   fmtPtr(record.EnergyUsed),
		"duration": record.Duration,
	}).Info("tracker: trip completed")

	t.publisher.Complete(ctx, record)
	t.publisher.PublishCurrent(ctx, t.vehicle.ID, domain.Idle())
}

type readings struct {
	odometer *float64
	battery  *float64
	lat, lon *float64
	geo      geodata.Geodata
}

// readLocked takes the current odometer, battery and location readings and
// enriches the location. Missing or unusable readings stay nil.
func (t *Tracker) readLocked(ctx context.Context) readings {
	var r readings
	if o, ok := t.source.Current(t.vehicle.OdometerSourceID); ok {
		r.odometer = sensors.Float(o)
	}
	if o, ok := t.source.Current(t.vehicle.BatterySourceID); ok {
		r.battery = sensors.Float(o)
	}
	if o, ok := t.source.Current(t.vehicle.LocationSourceID); ok {
		r.lat, r.lon = sensors.Coordinates(o)
	}
	for _, w := range sensors.ValidateReadings(r.odometer, r.battery) {
		t.log().Warn("tracker: " + w)
	}
	if r.lat != nil && r.lon != nil {
		r.geo = t.fetcher.Fetch(ctx, *r.lat, *r.lon)
	}
	return r
}

func (t *Tracker) log() *logrus.Entry {
	return t.logger.WithField("vehicle", t.vehicle.ID)
}

func fmtPtr(v *float64) any {
	if v == nil {
		return "n/a"
	}
	return *v
}
