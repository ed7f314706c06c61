package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/integrity"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// EventType names a notification pushed to stream subscribers.
type EventType string

const (
	EventTick              EventType = "tick"
	EventStatus            EventType = "status"
	EventIntegrity         EventType = "integrity"
	EventFullscreenRequest EventType = "fullscreen_request"
)

// Event is a controller notification.
type Event struct {
	Type        EventType               `json:"event"`
	Remaining   int                     `json:"remaining_seconds,omitempty"`
	Status      model.SessionStatus     `json:"status,omitempty"`
	Termination model.TerminationReason `json:"termination,omitempty"`
	Integrity   *model.IntegrityState   `json:"integrity,omitempty"`
}

// LiveAttempt is an attempt driven by this process.
type LiveAttempt struct {
	ID         uuid.UUID
	ExamID     uuid.UUID
	StudentID  int
	Controller *session.Controller
	// Source relays browser visibility and fullscreen events into the monitor.
	Source *integrity.RemoteEventSource

	hub     *hub
	runOnce sync.Once
}

// Subscribe registers fn for controller notifications. The returned function
// removes it.
func (l *LiveAttempt) Subscribe(fn func(Event)) func() {
	return l.hub.subscribe(fn)
}

func (l *LiveAttempt) run(ctx context.Context) {
	l.runOnce.Do(func() {
		go l.Controller.Run(ctx)
	})
}

type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(Event))}
}

func (h *hub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// broadcast delivers ev and returns the number of subscribers reached.
func (h *hub) broadcast(ev Event) int {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return len(fns)
}
