// Package timer implements the attempt countdown. Remaining time is always
// derived from an absolute deadline, never from the number of ticks seen, so a
// throttled or suspended host catches up on the next tick.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TickInterval is how often Run recomputes the remaining time.
const TickInterval = time.Second

// Timer is a deadline-based countdown with a one-shot expiry callback.
type Timer struct {
	clock clockwork.Clock

	mu        sync.Mutex
	deadline  time.Time
	remaining int
	running   bool
	fired     bool
	onExpire  func()
	listeners []func(remaining int)
}

// New creates a stopped Timer.
func New(clock clockwork.Clock) *Timer {
	return &Timer{clock: clock}
}

// Start arms the timer for d from now.
func (t *Timer) Start(d time.Duration, onExpire func()) {
	t.StartUntil(t.clock.Now().Add(d), onExpire)
}

// StartUntil arms the timer for an absolute deadline. A deadline already in
// the past expires on the next Tick.
func (t *Timer) StartUntil(deadline time.Time, onExpire func()) {
	t.mu.Lock()
	t.deadline = deadline
	t.onExpire = onExpire
	t.running = true
	t.fired = false
	t.remaining = t.computeLocked(t.clock.Now())
	remaining := t.remaining
	listeners := t.listeners
	t.mu.Unlock()

	notify(listeners, remaining)
}

// Stop halts the countdown. Safe to call any number of times.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// Reset stops the timer and clears its deadline so it can be started again.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.running = false
	t.fired = false
	t.deadline = time.Time{}
	t.remaining = 0
	t.onExpire = nil
	t.mu.Unlock()
}

// Tick recomputes the remaining seconds from the deadline and fires the
// expiry callback on the >0 → 0 edge. The callback runs without the timer
// lock held.
func (t *Timer) Tick() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}

	prev := t.remaining
	t.remaining = t.computeLocked(t.clock.Now())
	remaining := t.remaining
	listeners := t.listeners

	var expire func()
	if remaining == 0 && !t.fired {
		t.fired = true
		t.running = false
		expire = t.onExpire
	}
	t.mu.Unlock()

	if remaining != prev || expire != nil {
		notify(listeners, remaining)
	}
	if expire != nil {
		expire()
	}
}

// Run ticks once per TickInterval until ctx is done.
func (t *Timer) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Tick()
		}
	}
}

// OnChange registers a listener for remaining-second changes.
func (t *Timer) OnChange(fn func(remaining int)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Remaining returns the last computed remaining seconds.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether the countdown is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Deadline returns the absolute deadline, zero if never started.
func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// State returns the render view.
func (t *Timer) State() model.TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.TimerState{RemainingSeconds: t.remaining, Running: t.running}
}

// computeLocked returns max(0, ceil(deadline - now)) in seconds.
func (t *Timer) computeLocked(now time.Time) int {
	left := t.deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

func notify(listeners []func(int), remaining int) {
	for _, fn := range listeners {
		fn(remaining)
	}
}
