package observe

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/bus"
	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
)

// Source is an observation source: the latest state of Home Assistant
// entities plus a change feed.
type Source interface {
	// Subscribe calls fn for every state change of the given entities. fn
	// runs on a goroutine owned by the subscription, one change at a time.
	// The returned function detaches without waiting for a running fn.
	Subscribe(ids []string, fn func(sensors.Change)) (unsubscribe func())
	// Current returns a copy of the latest observation of id.
	Current(id string) (*sensors.Observation, bool)
	// Watch declares entities that will be read through Current.
	Watch(ids ...string)
	// Run feeds the source until ctx is done.
	Run(ctx context.Context) error
}

const subscriptionBuffer = 16

// hub is the state cache and change fan-out shared by every source.
//
// A change is an update whose state string differs from the cached one.
// Attribute-only updates refresh the cache without emitting a change, so a
// moving device tracker never looks like a driving-state edge. Only changes
// of subscribed entities go through the bus.
type hub struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	states  map[string]*sensors.Observation
	watched map[string]int // subscription refcount per entity
	changes *bus.Bus[sensors.Change]
}

func newHub(logger *logrus.Logger) *hub {
	return &hub{
		logger:  logger,
		states:  make(map[string]*sensors.Observation),
		watched: make(map[string]int),
		changes: bus.New[sensors.Change](),
	}
}

func (h *hub) Current(id string) (*sensors.Observation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, ok := h.states[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// update stores o and emits a change when its state differs.
func (h *hub) update(o *sensors.Observation) {
	h.mu.Lock()
	old := h.states[o.EntityID]
	h.states[o.EntityID] = o
	emit := h.watched[o.EntityID] > 0 && (old == nil || old.State != o.State)
	h.mu.Unlock()

	if emit {
		h.changes.Publish(sensors.Change{EntityID: o.EntityID, Old: old.Clone(), New: o.Clone()})
	}
}

// setState replaces the state of id and keeps its attributes.
func (h *hub) setState(id, state string, at time.Time) {
	h.mu.Lock()
	old := h.states[id]
	next := old.Clone()
	if next == nil {
		next = &sensors.Observation{EntityID: id}
	}
	next.State = state
	next.LastUpdated = at
	h.states[id] = next
	emit := h.watched[id] > 0 && (old == nil || old.State != state)
	h.mu.Unlock()

	if emit {
		h.changes.Publish(sensors.Change{EntityID: id, Old: old.Clone(), New: next.Clone()})
	}
}

// setAttribute updates one attribute of a cached entity, creating the entry
// when the attribute arrives before the state.
func (h *hub) setAttribute(id, name string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.states[id]
	var next *sensors.Observation
	if ok {
		next = cur.Clone()
	} else {
		next = &sensors.Observation{EntityID: id}
	}
	if next.Attributes == nil {
		next.Attributes = make(map[string]any)
	}
	next.Attributes[name] = value
	h.states[id] = next
}

// remove drops id and emits a change without a new value.
func (h *hub) remove(id string) {
	h.mu.Lock()
	old, ok := h.states[id]
	delete(h.states, id)
	emit := ok && h.watched[id] > 0
	h.mu.Unlock()

	if emit {
		h.changes.Publish(sensors.Change{EntityID: id, Old: old})
	}
}

func (h *hub) Subscribe(ids []string, fn func(sensors.Change)) func() {
	set := make(map[string]struct{}, len(ids))
	h.mu.Lock()
	for _, id := range ids {
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		h.watched[id]++
	}
	h.mu.Unlock()

	sub := h.changes.Subscribe(subscriptionBuffer)
	go func() {
		for {
			select {
			case c := <-sub.C():
				select {
				case <-sub.Done():
					return
				default:
				}
				if _, ok := set[c.EntityID]; ok {
					fn(c)
				}
			case <-sub.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			for id := range set {
				if h.watched[id]--; h.watched[id] <= 0 {
					delete(h.watched, id)
				}
			}
			h.mu.Unlock()
			h.changes.Unsubscribe(sub)
		})
	}
}

func (h *hub) subscribers() int {
	return h.changes.Len()
}
