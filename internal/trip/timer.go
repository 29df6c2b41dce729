package trip

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled callback. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// RealScheduler schedules on the runtime timer.
type RealScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Timer is the single delayed-end handle of a vehicle. At most one arming is
// live at a time. Every Arm and Cancel bumps a generation counter, and the
// fire callback receives the generation it was armed with; the owner must
// Claim that generation before acting so a callback that raced a Cancel or a
// re-Arm does nothing.
type Timer[T any] struct {
	sched Scheduler
	fire  func(gen uint64, payload T)

	mu    sync.Mutex
	gen   uint64
	stop  Stopper
	armed bool
}

// NewTimer returns an unarmed timer that calls fire on expiry.
func NewTimer[T any](sched Scheduler, fire func(gen uint64, payload T)) *Timer[T] {
	return &Timer[T]{sched: sched, fire: fire}
}

// Arm cancels any live arming and schedules a new one carrying payload.
func (t *Timer[T]) Arm(d time.Duration, payload T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.stop = t.sched.AfterFunc(d, func() { t.fire(gen, payload) })
	return gen
}

// Cancel disarms the timer. Calling it on an unarmed timer does nothing.
func (t *Timer[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Armed reports whether an arming is live.
func (t *Timer[T]) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Claim reports whether gen is the live arming and, if so, disarms it.
func (t *Timer[T]) Claim(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed || gen != t.gen {
		return false
	}
	t.armed = false
	t.stop = nil
	return true
}

func (t *Timer[T]) cancelLocked() {
	if !t.armed {
		return
	}
	if t.stop != nil {
		t.stop.Stop()
	}
	t.stop = nil
	t.armed = false
	t.gen++
}
