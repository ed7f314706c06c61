package integrity

import (
	"context"
	"errors"
	"sync"
)

// ErrFullscreenUnavailable is returned when the host cannot enter fullscreen.
var ErrFullscreenUnavailable = errors.New("fullscreen unavailable")

// PlatformHandler receives page-lifecycle transitions from the host.
type PlatformHandler interface {
	OnHiddenTransition()
	OnVisibleTransition()
	OnFullscreenChange(fullscreen bool)
}

// PlatformEventSource abstracts the visibility/fullscreen events of the page
// the attempt runs in.
type PlatformEventSource interface {
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h PlatformHandler) (unsubscribe func())
	// RequestFullscreen asks the host to enter fullscreen.
	RequestFullscreen(ctx context.Context) error
}

// RemoteEventSource is a PlatformEventSource fed by a remote client, e.g. the
// websocket stream relaying browser events.
type RemoteEventSource struct {
	mu       sync.Mutex
	handlers map[int]PlatformHandler
	nextID   int
	// fullscreen is invoked by RequestFullscreen; nil means unsupported.
	fullscreen func(ctx context.Context) error
}

// NewRemoteEventSource creates an empty source.
func NewRemoteEventSource() *RemoteEventSource {
	return &RemoteEventSource{handlers: make(map[int]PlatformHandler)}
}

// SetFullscreenRequester installs the function used to ask the client to go
// fullscreen.
func (s *RemoteEventSource) SetFullscreenRequester(fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.fullscreen = fn
	s.mu.Unlock()
}

// Subscribe implements PlatformEventSource.
func (s *RemoteEventSource) Subscribe(h PlatformHandler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// RequestFullscreen implements PlatformEventSource.
func (s *RemoteEventSource) RequestFullscreen(ctx context.Context) error {
	s.mu.Lock()
	fn := s.fullscreen
	s.mu.Unlock()
	if fn == nil {
		return ErrFullscreenUnavailable
	}
	return fn(ctx)
}

// Hidden relays a visible → hidden transition.
func (s *RemoteEventSource) Hidden() {
	for _, h := range s.snapshot() {
		h.OnHiddenTransition()
	}
}

// Visible relays a hidden → visible transition.
func (s *RemoteEventSource) Visible() {
	for _, h := range s.snapshot() {
		h.OnVisibleTransition()
	}
}

// Fullscreen relays a fullscreen change.
func (s *RemoteEventSource) Fullscreen(on bool) {
	for _, h := range s.snapshot() {
		h.OnFullscreenChange(on)
	}
}

func (s *RemoteEventSource) snapshot() []PlatformHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlatformHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}
