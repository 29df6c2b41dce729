package bus

import "sync"

// Bus provides fan-out pub/sub semantics. Each Subscribe call gets its own
// buffered channel that receives every future publication. Past messages are
// not replayed. The implementation is safe for concurrent publishers and
// subscribers.
//
// Unlike a lossy telemetry stream, the messages carried here are edges
// (driving started/stopped, trip completed), so Publish waits for a slow
// subscriber instead of skipping it. A subscriber that is going away must
// call Unsubscribe, which releases any publisher blocked on it.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// Subscription is a single subscriber's view of the bus.
type Subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// C returns the channel carrying publications.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed once the subscription has been removed from the bus.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// New creates a ready-to-use Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer size.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes the subscriber. It is safe to call more than once.
// The data channel is never closed so an in-flight Publish cannot panic;
// consumers should select on Done as well.
func (b *Bus[T]) Unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Publish delivers v to every current subscriber in turn.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-s.done:
		}
	}
}

// TryPublish delivers v to every subscriber with room in its buffer and
// returns how many subscribers were skipped.
func (b *Bus[T]) TryPublish(v T) (dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
