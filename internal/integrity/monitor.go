// Package integrity counts tab switches and fullscreen exits during an
// attempt and keeps the append-only integrity log used for review.
package integrity

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Monitor observes a PlatformEventSource. Counting only happens while
// monitoring; every visible → hidden transition counts, there is no debounce.
type Monitor struct {
	clock  clockwork.Clock
	source PlatformEventSource
	log    zerolog.Logger

	mu          sync.Mutex
	monitoring  bool
	hidden      bool
	fullscreen  bool
	sawEntry    bool
	exited      bool
	tabSwitches int
	fsExits     int
	events      []model.IntegrityEvent
	onViolation []func(model.IntegrityState)

	unsubscribe func()
}

// NewMonitor creates an idle monitor subscribed to source.
func NewMonitor(source PlatformEventSource, clock clockwork.Clock, log zerolog.Logger) *Monitor {
	m := &Monitor{
		clock:  clock,
		source: source,
		log:    log.With().Str("component", "integrity_monitor").Logger(),
	}
	m.unsubscribe = source.Subscribe(m)
	return m
}

// OnViolation registers a callback invoked after each counted violation.
func (m *Monitor) OnViolation(fn func(model.IntegrityState)) {
	m.mu.Lock()
	m.onViolation = append(m.onViolation, fn)
	m.mu.Unlock()
}

// StartMonitoring arms counting. If the page is already fullscreen the entry
// counts as observed.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	m.monitoring = true
	if m.fullscreen {
		m.sawEntry = true
	}
	m.mu.Unlock()
}

// StopMonitoring disarms counting. Counters are kept for reporting. Safe to
// call repeatedly.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	m.monitoring = false
	m.mu.Unlock()
}

// ResetMonitoring zeroes counters and flags and arms monitoring. The log keeps
// its history and gets a reset marker.
func (m *Monitor) ResetMonitoring() {
	m.mu.Lock()
	m.tabSwitches = 0
	m.fsExits = 0
	m.exited = false
	m.sawEntry = m.fullscreen
	m.monitoring = true
	m.events = append(m.events, model.IntegrityEvent{
		Type:      model.IntegrityEventMonitorReset,
		Timestamp: m.clock.Now(),
	})
	m.mu.Unlock()
}

// RequestFullscreen asks the host to enter fullscreen.
func (m *Monitor) RequestFullscreen(ctx context.Context) error {
	if err := m.source.RequestFullscreen(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Fullscreen request failed")
		return err
	}
	return nil
}

// Close detaches from the event source.
func (m *Monitor) Close() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.monitoring = false
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// State returns the current counters.
func (m *Monitor) State() model.IntegrityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Events returns a copy of the integrity log.
func (m *Monitor) Events() []model.IntegrityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.IntegrityEvent(nil), m.events...)
}

// Cheated reports whether any violation was ever logged.
func (m *Monitor) Cheated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.IsViolation() {
			return true
		}
	}
	return false
}

// OnHiddenTransition implements PlatformHandler.
func (m *Monitor) OnHiddenTransition() {
	m.mu.Lock()
	if m.hidden {
		m.mu.Unlock()
		return
	}
	m.hidden = true
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.tabSwitches++
	m.appendLocked(model.IntegrityEventTabSwitch)
	state, callbacks := m.stateLocked(), m.onViolation
	m.mu.Unlock()

	m.log.Info().Int("tab_switch_count", state.TabSwitchCount).Msg("Tab switch recorded")
	for _, fn := range callbacks {
		fn(state)
	}
}

// OnVisibleTransition implements PlatformHandler.
func (m *Monitor) OnVisibleTransition() {
	m.mu.Lock()
	m.hidden = false
	m.mu.Unlock()
}

// OnFullscreenChange implements PlatformHandler.
func (m *Monitor) OnFullscreenChange(fullscreen bool) {
	m.mu.Lock()
	was := m.fullscreen
	m.fullscreen = fullscreen

	if fullscreen {
		if m.monitoring {
			m.sawEntry = true
		}
		m.mu.Unlock()
		return
	}

	if !was || !m.monitoring || !m.sawEntry {
		m.mu.Unlock()
		return
	}
	m.fsExits++
	m.exited = true
	m.appendLocked(model.IntegrityEventFullscreenExit)
	state, callbacks := m.stateLocked(), m.onViolation
	m.mu.Unlock()

	m.log.Info().Int("fullscreen_exit_count", state.FullscreenExitCount).Msg("Fullscreen exit recorded")
	for _, fn := range callbacks {
		fn(state)
	}
}

func (m *Monitor) appendLocked(t model.IntegrityEventType) {
	m.events = append(m.events, model.IntegrityEvent{Type: t, Timestamp: m.clock.Now()})
}

func (m *Monitor) stateLocked() model.IntegrityState {
	return model.IntegrityState{
		TabSwitchCount:      m.tabSwitches,
		FullscreenExitCount: m.fsExits,
		IsFullscreen:        m.fullscreen,
		ExitedFullscreen:    m.exited,
		Monitoring:          m.monitoring,
	}
}
