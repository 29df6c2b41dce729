package publish

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/notify"
	"github.com/jkaberg/ev-trip-tracker/internal/settings"
	"github.com/jkaberg/ev-trip-tracker/internal/transmission"
)

const (
	// EventTripCompleted is fired once per finalized trip.
	EventTripCompleted = "ev_trip_tracker_trip_completed"

	retryInterval   = 5 * time.Second
	drainTimeout    = 5 * time.Second
	sinkTimeout     = 5 * time.Second
	completionQueue = 64
)

// ErrHistoryDisabled is returned by History when no history store is wired.
var ErrHistoryDisabled = errors.New("trip history is not configured")

// LastTripStore persists the last trip of each vehicle across restarts.
type LastTripStore interface {
	Save(ctx context.Context, rec domain.Record) error
	Load(ctx context.Context, vehicleID string) (domain.Record, bool, error)
	Delete(ctx context.Context, vehicleID string) error
}

// HistoryStore keeps every finished trip.
type HistoryStore interface {
	Append(ctx context.Context, rec domain.Record) error
	List(ctx context.Context, vehicleID string, limit int) ([]domain.Record, error)
}

// SettingsView resolves vehicle settings for transmitters.
type SettingsView interface {
	Current() settings.Snapshot
}

// Options wires a Publisher. Every collaborator is optional.
type Options struct {
	Transmitters []transmission.Transmitter
	LastTrips    LastTripStore
	History      HistoryStore
	Notifier     notify.Notifier
	Settings     SettingsView
	Logger       *logrus.Logger
}

// vehicleState holds the projections of one vehicle. The generation counters
// track which projection versions have reached every transmitter.
type vehicleState struct {
	current    domain.CurrentTrip
	last       *domain.Record
	currentGen uint64
	currentOut uint64
	lastGen    uint64
	lastOut    uint64
}

// Publisher owns the current-trip and last-trip projections of all vehicles.
//
// Trackers update projections synchronously; transmitters and stores are
// driven from Run. A projection that fails to transmit stays pending and is
// retried, and only its latest version is sent.
type Publisher struct {
	opts   Options
	logger *logrus.Logger

	sinkTimeout time.Duration

	// flushMu serializes transmits with Remove so a removed vehicle's
	// entities are never republished.
	flushMu sync.Mutex

	mu       sync.RWMutex
	vehicles map[string]*vehicleState

	kick        chan struct{}
	completions chan domain.Record
}

// New returns a publisher. Call Run to start transmitting.
func New(opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Publisher{
		opts:        opts,
		logger:      opts.Logger,
		sinkTimeout: sinkTimeout,
		vehicles:    make(map[string]*vehicleState),
		kick:        make(chan struct{}, 1),
		completions: make(chan domain.Record, completionQueue),
	}
}

// PublishCurrent replaces the current-trip projection of a vehicle.
func (p *Publisher) PublishCurrent(_ context.Context, vehicleID string, current domain.CurrentTrip) {
	current.Snapshot = current.Snapshot.Copy()

	p.mu.Lock()
	st := p.stateLocked(vehicleID)
	st.current = current
	st.currentGen++
	p.mu.Unlock()

	p.signal()
}

// Complete records a finalized trip: it becomes the last-trip projection and
// is queued for storage and notification.
func (p *Publisher) Complete(_ context.Context, rec domain.Record) {
	p.mu.Lock()
	st := p.stateLocked(rec.VehicleID)
	r := rec
	st.last = &r
	st.lastGen++
	p.mu.Unlock()

	select {
	case p.completions <- rec:
	default:
		p.logger.WithFields(logrus.Fields{
			"vehicle": rec.VehicleID,
			"trip_id": rec.TripID,
		}).Error("publisher: completion queue full, trip not persisted")
	}
	p.signal()
}

// Current returns the current-trip projection of a vehicle.
func (p *Publisher) Current(vehicleID string) (domain.CurrentTrip, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.vehicles[vehicleID]
	if !ok {
		return domain.CurrentTrip{}, false
	}
	c := st.current
	c.Snapshot = c.Snapshot.Copy()
	return c, true
}

// Last returns the last finished trip of a vehicle.
func (p *Publisher) Last(vehicleID string) (domain.Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.vehicles[vehicleID]
	if !ok || st.last == nil {
		return domain.Record{}, false
	}
	return *st.last, true
}

// History lists stored trips of a vehicle, newest first.
func (p *Publisher) History(ctx context.Context, vehicleID string, limit int) ([]domain.Record, error) {
	if p.opts.History == nil {
		return nil, ErrHistoryDisabled
	}
	return p.opts.History.List(ctx, vehicleID, limit)
}

// Restore loads the persisted last trip of each vehicle.
func (p *Publisher) Restore(ctx context.Context, vehicleIDs []string) {
	if p.opts.LastTrips == nil {
		return
	}
	for _, id := range vehicleIDs {
		rec, ok, err := p.opts.LastTrips.Load(ctx, id)
		if err != nil {
			p.logger.WithError(err).WithField("vehicle", id).Warn("publisher: failed to restore last trip")
			continue
		}
		if !ok {
			continue
		}
		p.mu.Lock()
		st := p.stateLocked(id)
		if st.last == nil {
			st.last = &rec
			st.lastGen++
		}
		p.mu.Unlock()
		p.logger.WithFields(logrus.Fields{
			"vehicle": id,
			"trip_id": rec.TripID,
		}).Info("publisher: restored last trip")
	}
	p.signal()
}

// Remove drops a vehicle: its projections, its persisted last trip and the
// entities transmitters created for it. History is kept.
func (p *Publisher) Remove(ctx context.Context, v settings.Vehicle) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	delete(p.vehicles, v.ID)
	p.mu.Unlock()

	for _, tx := range p.opts.Transmitters {
		if err := tx.Remove(v); err != nil {
			p.logger.WithError(err).WithField("vehicle", v.ID).Warn("publisher: failed to remove vehicle entities")
		}
	}
	if p.opts.LastTrips != nil {
		if err := p.opts.LastTrips.Delete(ctx, v.ID); err != nil {
			p.logger.WithError(err).WithField("vehicle", v.ID).Warn("publisher: failed to delete last trip")
		}
	}
}

// VehicleIDs returns the vehicles with a projection, sorted.
func (p *Publisher) VehicleIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.vehicles))
	for id := range p.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run drives transmitters and stores until ctx is done, then makes a final
// bounded attempt to flush what is pending. Completed trips are persisted on
// their own goroutine so slow stores never hold up transmits.
func (p *Publisher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.persistLoop(ctx)
	}()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			p.drain(drainCtx)
			cancel()
			return nil
		case <-p.kick:
			p.flush()
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *Publisher) persistLoop(ctx context.Context) {
	// A trip taken off the queue is finished even when shutdown starts.
	parent := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.completions:
			p.persist(parent, rec)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case rec := <-p.completions:
			p.persist(ctx, rec)
		default:
			p.flush()
			return
		}
	}
}

// persist fires the completion event, then stores the trip. Every sink gets
// its own timeout.
func (p *Publisher) persist(parent context.Context, rec domain.Record) {
	log := p.logger.WithFields(logrus.Fields{
		"vehicle": rec.VehicleID,
		"trip_id": rec.TripID,
	})
	if p.opts.Notifier != nil {
		ev := notify.Event{
			Name:      EventTripCompleted,
			Type:      transmission.EventTypeTripCompleted,
			VehicleID: rec.VehicleID,
			Payload:   rec,
		}
		if err := p.withTimeout(parent, func(ctx context.Context) error { return p.opts.Notifier.Notify(ctx, ev) }); err != nil {
			log.WithError(err).Warn("publisher: failed to fire trip completed event")
		}
	}
	if p.opts.LastTrips != nil {
		if err := p.withTimeout(parent, func(ctx context.Context) error { return p.opts.LastTrips.Save(ctx, rec) }); err != nil {
			log.WithError(err).Warn("publisher: failed to store last trip")
		}
	}
	if p.opts.History != nil {
		if err := p.withTimeout(parent, func(ctx context.Context) error { return p.opts.History.Append(ctx, rec) }); err != nil {
			log.WithError(err).Warn("publisher: failed to append trip history")
		}
	}
	log.Debug("publisher: trip persisted")
}

func (p *Publisher) withTimeout(parent context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, p.sinkTimeout)
	defer cancel()
	return fn(ctx)
}

type outgoing struct {
	vehicle    settings.Vehicle
	current    *domain.CurrentTrip
	currentGen uint64
	last       *domain.Record
	lastGen    uint64
}

// flush sends every pending projection to all transmitters.
func (p *Publisher) flush() {
	if len(p.opts.Transmitters) == 0 {
		return
	}
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	var snap settings.Snapshot
	if p.opts.Settings != nil {
		snap = p.opts.Settings.Current()
	}

	var pending []outgoing
	p.mu.RLock()
	for id, st := range p.vehicles {
		out := outgoing{vehicle: vehicleFor(snap, id)}
		if st.currentGen != st.currentOut {
			c := st.current
			c.Snapshot = c.Snapshot.Copy()
			out.current, out.currentGen = &c, st.currentGen
		}
		if st.last != nil && st.lastGen != st.lastOut {
			l := *st.last
			out.last, out.lastGen = &l, st.lastGen
		}
		if out.current != nil || out.last != nil {
			pending = append(pending, out)
		}
	}
	p.mu.RUnlock()

	for _, out := range pending {
		currentOK, lastOK := true, true
		for _, tx := range p.opts.Transmitters {
			if out.current != nil {
				if err := tx.TransmitCurrent(out.vehicle, *out.current); err != nil {
					currentOK = false
					p.logger.WithError(err).WithField("vehicle", out.vehicle.ID).Warn("publisher: current trip transmit failed")
				}
			}
			if out.last != nil {
				if err := tx.TransmitLast(out.vehicle, *out.last); err != nil {
					lastOK = false
					p.logger.WithError(err).WithField("vehicle", out.vehicle.ID).Warn("publisher: last trip transmit failed")
				}
			}
		}

		p.mu.Lock()
		if st, ok := p.vehicles[out.vehicle.ID]; ok {
			if out.current != nil && currentOK {
				st.currentOut = out.currentGen
			}
			if out.last != nil && lastOK {
				st.lastOut = out.lastGen
			}
		}
		p.mu.Unlock()
	}
}

// pending reports whether any projection still has to reach a transmitter.
func (p *Publisher) pending() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, st := range p.vehicles {
		if st.currentGen != st.currentOut || (st.last != nil && st.lastGen != st.lastOut) {
			return true
		}
	}
	return false
}

func (p *Publisher) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Publisher) stateLocked(vehicleID string) *vehicleState {
	st, ok := p.vehicles[vehicleID]
	if !ok {
		st = &vehicleState{current: domain.Idle()}
		p.vehicles[vehicleID] = st
	}
	return st
}

func vehicleFor(snap settings.Snapshot, id string) settings.Vehicle {
	if v, ok := snap.Vehicle(id); ok {
		return v
	}
	return settings.Vehicle{ID: id}
}
