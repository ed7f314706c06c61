package draft

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Autosaver writes answer changes into the Cache. Regular answers are written
// through immediately; high-frequency coding edits are batched until the key
// has been idle for the configured interval. Writes for one key are applied
// in version order: a write older than the last successful one is dropped.
// Failed writes are kept and retried on the next save or flush.
type Autosaver struct {
	cache *Cache
	clock clockwork.Clock
	idle  time.Duration
	log   zerolog.Logger

	writeMu sync.Mutex // serializes KV writes

	mu      sync.Mutex
	written map[string]uint64
	pending map[string]*pendingSave
	closed  bool
}

type pendingSave struct {
	questionID string
	variant    string
	entry      Entry
	touched    time.Time
	failed     bool
}

// NewAutosaver creates an Autosaver. idle is the inactivity window for
// batched saves.
func NewAutosaver(cache *Cache, clock clockwork.Clock, idle time.Duration, log zerolog.Logger) *Autosaver {
	return &Autosaver{
		cache:   cache,
		clock:   clock,
		idle:    idle,
		log:     log.With().Str("component", "autosaver").Logger(),
		written: make(map[string]uint64),
		pending: make(map[string]*pendingSave),
	}
}

// Save writes the entry now and retries any earlier failures. The error is
// informational; the in-memory answer stays authoritative either way.
func (a *Autosaver) Save(ctx context.Context, questionID, variant string, e Entry) error {
	a.retryFailed(ctx)
	return a.write(ctx, &pendingSave{questionID: questionID, variant: variant, entry: e})
}

// Schedule queues the entry to be written once the key is idle.
func (a *Autosaver) Schedule(ctx context.Context, questionID, variant string, e Entry) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending[Key(questionID, variant)] = &pendingSave{
		questionID: questionID,
		variant:    variant,
		entry:      e,
		touched:    a.clock.Now(),
	}
	a.mu.Unlock()

	a.retryFailed(ctx)
}

// FlushIdle writes pending entries idle for at least the idle interval, plus
// any failed writes.
func (a *Autosaver) FlushIdle(ctx context.Context) {
	now := a.clock.Now()
	a.flushWhere(ctx, func(p *pendingSave) bool {
		return p.failed || now.Sub(p.touched) >= a.idle
	})
}

// Flush writes every pending entry of questionID immediately.
func (a *Autosaver) Flush(ctx context.Context, questionID string) {
	a.flushWhere(ctx, func(p *pendingSave) bool { return p.questionID == questionID })
}

// FlushAll writes every pending entry immediately.
func (a *Autosaver) FlushAll(ctx context.Context) {
	a.flushWhere(ctx, func(*pendingSave) bool { return true })
}

// Pending returns the number of unwritten entries.
func (a *Autosaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close removes every cached draft and stops accepting writes.
func (a *Autosaver) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.pending = make(map[string]*pendingSave)
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.cache.ClearAll(ctx)
}

func (a *Autosaver) retryFailed(ctx context.Context) {
	a.flushWhere(ctx, func(p *pendingSave) bool { return p.failed })
}

func (a *Autosaver) flushWhere(ctx context.Context, match func(*pendingSave) bool) {
	a.mu.Lock()
	var due []*pendingSave
	for key, p := range a.pending {
		if match(p) {
			due = append(due, p)
			delete(a.pending, key)
		}
	}
	a.mu.Unlock()

	for _, p := range due {
		_ = a.write(ctx, p)
	}
}

func (a *Autosaver) write(ctx context.Context, p *pendingSave) error {
	key := Key(p.questionID, p.variant)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.closed || p.entry.Version <= a.written[key] {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if p.entry.SavedAt.IsZero() {
		p.entry.SavedAt = a.clock.Now()
	}

	if err := a.cache.Save(ctx, p.questionID, p.variant, p.entry); err != nil {
		a.log.Warn().Err(err).
			Str("question_id", p.questionID).
			Str("variant", p.variant).
			Uint64("version", p.entry.Version).
			Msg("Draft save failed, will retry")

		a.mu.Lock()
		// Keep a newer pending entry if one arrived meanwhile.
		if cur, ok := a.pending[key]; !ok || cur.entry.Version < p.entry.Version {
			p.failed = true
			a.pending[key] = p
		}
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	a.written[key] = p.entry.Version
	if cur, ok := a.pending[key]; ok && cur.entry.Version <= p.entry.Version {
		delete(a.pending, key)
	}
	a.mu.Unlock()
	return nil
}
