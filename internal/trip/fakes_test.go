package trip

import (
	"context"
	"sync"
	"time"

	"github.com/jkaberg/ev-trip-tracker/internal/domain"
	"github.com/jkaberg/ev-trip-tracker/internal/geodata"
	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (ft *fakeTimer) Stop() bool {
	wasLive := !ft.stopped && !ft.fired
	ft.stopped = true
	return wasLive
}

// fakeScheduler records armings; tests fire them explicitly.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, ft)
	return ft
}

// fireLive runs every arming that was neither stopped nor fired.
func (s *fakeScheduler) fireLive() int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, ft := range s.timers {
		if !ft.stopped && !ft.fired {
			ft.fired = true
			due = append(due, ft)
		}
	}
	s.mu.Unlock()
	for _, ft := range due {
		ft.f()
	}
	return len(due)
}

// fireAnyway runs arming i even if it was stopped, as a runtime timer that
// already started its callback would.
func (s *fakeScheduler) fireAnyway(i int) {
	s.mu.Lock()
	ft := s.timers[i]
	s.mu.Unlock()
	ft.f()
}

func (s *fakeScheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ft := range s.timers {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type subscription struct {
	ids []string
	fn  func(sensors.Change)
}

// fakeSource is an in-memory observation source.
type fakeSource struct {
	mu   sync.Mutex
	obs  map[string]*sensors.Observation
	subs map[int]subscription
	next int
}

func newFakeSource() *fakeSource {
	return &fakeSource{obs: map[string]*sensors.Observation{}, subs: map[int]subscription{}}
}

func (s *fakeSource) Subscribe(ids []string, fn func(sensors.Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = subscription{ids: ids, fn: fn}
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSource) Current(id string) (*sensors.Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.obs[id]
	return o.Clone(), ok
}

func (s *fakeSource) set(id, state string, attrs map[string]any) {
	s.mu.Lock()
	s.obs[id] = &sensors.Observation{EntityID: id, State: state, Attributes: attrs}
	s.mu.Unlock()
}

func (s *fakeSource) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// emit stores the new state and delivers the change synchronously.
func (s *fakeSource) emit(id, state string) {
	s.mu.Lock()
	old := s.obs[id]
	n := &sensors.Observation{EntityID: id, State: state}
	s.obs[id] = n
	var fns []func(sensors.Change)
	for _, sub := range s.subs {
		for _, sid := range sub.ids {
			if sid == id {
				fns = append(fns, sub.fn)
			}
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(sensors.Change{EntityID: id, Old: old, New: n})
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	geo   []geodata.Geodata
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ float64) geodata.Geodata {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.geo) == 0 {
		return geodata.Geodata{}
	}
	g := f.geo[0]
	f.geo = f.geo[1:]
	return g
}

type recordingPublisher struct {
	mu       sync.Mutex
	currents []domain.CurrentTrip
	records  []domain.Record
}

func (p *recordingPublisher) PublishCurrent(_ context.Context, _ string, c domain.CurrentTrip) {
	p.mu.Lock()
	p.currents = append(p.currents, c)
	p.mu.Unlock()
}

func (p *recordingPublisher) Complete(_ context.Context, r domain.Record) {
	p.mu.Lock()
	p.records = append(p.records, r)
	p.mu.Unlock()
}

func (p *recordingPublisher) snapshot() ([]domain.CurrentTrip, []domain.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.CurrentTrip(nil), p.currents...), append([]domain.Record(nil), p.records...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
