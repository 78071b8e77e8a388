package questionbank

import (
	"sync"
	"time"
)

// ThrottleStatus is a point-in-time view of the throttle
type ThrottleStatus struct {
	Limited          bool      `json:"limited"`
	RetryAfter       time.Time `json:"retry_after"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// Throttle holds the "do not call again until T" deadline shared by every client
// talking to the same generation endpoint. The deadline is last-writer-wins.
type Throttle struct {
	mu        sync.Mutex
	deadline  time.Time
	now       func() time.Time
	listeners map[int]func(ThrottleStatus)
	nextID    int
}

// NewThrottle creates an unthrottled Throttle
func NewThrottle() *Throttle {
	return &Throttle{
		now:       time.Now,
		listeners: make(map[int]func(ThrottleStatus)),
	}
}

// Until publishes a new deadline
func (t *Throttle) Until(deadline time.Time) {
	t.mu.Lock()
	t.deadline = deadline
	status := t.statusLocked()
	fns := t.listenersLocked()
	t.mu.Unlock()

	notify(fns, status)
}

// Clear removes any deadline
func (t *Throttle) Clear() {
	t.mu.Lock()
	if t.deadline.IsZero() {
		t.mu.Unlock()
		return
	}
	t.deadline = time.Time{}
	status := t.statusLocked()
	fns := t.listenersLocked()
	t.mu.Unlock()

	notify(fns, status)
}

// Remaining returns how long callers must still wait, or zero
func (t *Throttle) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

// Status reports whether the throttle is active and for how long
func (t *Throttle) Status() ThrottleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// Subscribe registers fn to be called on every deadline change.
// The returned function removes the subscription.
func (t *Throttle) Subscribe(fn func(ThrottleStatus)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Throttle) remainingLocked() time.Duration {
	if t.deadline.IsZero() {
		return 0
	}
	if d := t.deadline.Sub(t.now()); d > 0 {
		return d
	}
	return 0
}

func (t *Throttle) statusLocked() ThrottleStatus {
	remaining := t.remainingLocked()
	return ThrottleStatus{
		Limited:          remaining > 0,
		RetryAfter:       t.deadline,
		RemainingSeconds: int((remaining + time.Second - 1) / time.Second),
	}
}

func (t *Throttle) listenersLocked() []func(ThrottleStatus) {
	fns := make([]func(ThrottleStatus), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(ThrottleStatus), status ThrottleStatus) {
	for _, fn := range fns {
		fn(status)
	}
}
