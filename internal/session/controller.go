// Package session owns the lifecycle of one exam attempt. The Controller wires
// the timer, integrity monitor, answer store and draft autosave together and
// drives the attempt from setup through submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/answer"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/integrity"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/scoring"
	"github.com/stemsi/exstem-proctor/internal/timer"
)

// Submitter hands a frozen payload to the grading backend.
type Submitter interface {
	Submit(ctx context.Context, p *model.SubmissionPayload) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, p *model.SubmissionPayload) error

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, p *model.SubmissionPayload) error {
	return f(ctx, p)
}

// Recovery receives payloads whose delivery failed for good.
type Recovery interface {
	Recover(ctx context.Context, p *model.SubmissionPayload) error
}

// Deps are the collaborators of a Controller. Only Submitter is required.
type Deps struct {
	Clock     clockwork.Clock
	DraftKV   draft.KV
	Submitter Submitter
	Events    integrity.PlatformEventSource
	Recovery  Recovery
	Logger    zerolog.Logger
}

// Options tune a Controller.
type Options struct {
	AttemptID uuid.UUID
	StudentID int
	Policy    integrity.Policy

	// StartedAt resumes an attempt started earlier so the deadline survives a
	// restart.
	StartedAt *time.Time

	SubmitAttempts int
	SubmitBackoff  time.Duration
	SubmitTimeout  time.Duration
	AutosaveIdle   time.Duration
	DraftTimeout   time.Duration
}

func (o *Options) setDefaults() {
	if o.AttemptID == uuid.Nil {
		o.AttemptID = uuid.New()
	}
	if o.SubmitAttempts <= 0 {
		o.SubmitAttempts = 3
	}
	if o.SubmitBackoff <= 0 {
		o.SubmitBackoff = 500 * time.Millisecond
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 10 * time.Second
	}
	if o.AutosaveIdle <= 0 {
		o.AutosaveIdle = 3 * time.Second
	}
	if o.DraftTimeout <= 0 {
		o.DraftTimeout = 3 * time.Second
	}
}

// Controller is the session state machine of one attempt.
type Controller struct {
	def  *model.ExamDefinition
	deps Deps
	opts Options
	log  zerolog.Logger

	timer     *timer.Timer
	monitor   *integrity.Monitor
	store     *answer.Store
	drafts    *draft.Cache
	autosaver *draft.Autosaver

	mu          sync.Mutex
	status      model.SessionStatus
	consent     *model.Consent
	startedAt   time.Time
	deadlineAt  time.Time
	current     string
	termination model.TerminationReason
	payload     *model.SubmissionPayload
	result      *scoring.Result
	listeners   []func(model.SessionStatus)
}

// New creates a Controller in not_started for def.
func New(def *model.ExamDefinition, deps Deps, opts Options) (*Controller, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exam definition: %w", err)
	}
	if deps.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.DraftKV == nil {
		deps.DraftKV = draft.NewMemoryKV()
	}
	if deps.Events == nil {
		deps.Events = integrity.NewRemoteEventSource()
	}
	opts.setDefaults()

	log := deps.Logger.With().
		Str("component", "session").
		Str("attempt_id", opts.AttemptID.String()).
		Logger()

	cache := draft.NewCache(deps.DraftKV)
	c := &Controller{
		def:       def,
		deps:      deps,
		opts:      opts,
		log:       log,
		timer:     timer.New(deps.Clock),
		monitor:   integrity.NewMonitor(deps.Events, deps.Clock, log),
		store:     answer.New(def, deps.Clock),
		drafts:    cache,
		autosaver: draft.NewAutosaver(cache, deps.Clock, opts.AutosaveIdle, log),
		status:    model.SessionStatusNotStarted,
	}
	c.monitor.OnViolation(c.onViolation)
	return c, nil
}

// AttemptID returns the attempt this controller drives.
func (c *Controller) AttemptID() uuid.UUID { return c.opts.AttemptID }

// Definition returns the bound exam.
func (c *Controller) Definition() *model.ExamDefinition { return c.def }

// OnStatusChange registers a listener called after every status change.
func (c *Controller) OnStatusChange(fn func(model.SessionStatus)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// OnTick registers a listener for remaining-second changes.
func (c *Controller) OnTick(fn func(remaining int)) {
	c.timer.OnChange(fn)
}

// OnIntegrity registers a listener for counted violations.
func (c *Controller) OnIntegrity(fn func(model.IntegrityState)) {
	c.monitor.OnViolation(fn)
}

// EnterSetup moves not_started → setup.
func (c *Controller) EnterSetup() error {
	return c.transition(model.SessionStatusSetup, model.TerminationNone)
}

// RecordConsent stores the monitoring decision. Declining monitoring requires
// a reason.
func (c *Controller) RecordConsent(consent model.Consent) error {
	consent.Reason = strings.TrimSpace(consent.Reason)
	if !consent.MonitoringEnabled && consent.Reason == "" {
		return ErrConsentReasonRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.SessionStatusSetup {
		return fmt.Errorf("%w: consent in %s", ErrInvalidTransition, c.status)
	}
	if consent.DecidedAt.IsZero() {
		consent.DecidedAt = c.deps.Clock.Now()
	}
	c.consent = &consent
	return nil
}

// Start moves setup → in_progress. Drafts of a previous load are restored
// before the countdown begins.
func (c *Controller) Start(ctx context.Context) error {
	now := c.deps.Clock.Now()

	c.mu.Lock()
	if c.status != model.SessionStatusSetup {
		st := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidTransition, st)
	}
	if c.consent == nil {
		c.mu.Unlock()
		return ErrConsentRequired
	}
	startedAt := now
	if c.opts.StartedAt != nil {
		startedAt = *c.opts.StartedAt
	} else {
		if c.def.StartAt != nil && now.Before(*c.def.StartAt) {
			c.mu.Unlock()
			return ErrExamNotOpen
		}
		if c.def.EndAt != nil && !now.Before(*c.def.EndAt) {
			c.mu.Unlock()
			return ErrExamClosed
		}
	}
	monitoring := c.consent.MonitoringEnabled
	c.mu.Unlock()

	c.restoreDrafts(ctx)

	c.mu.Lock()
	if c.status != model.SessionStatusSetup {
		st := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidTransition, st)
	}
	c.status = model.SessionStatusInProgress
	c.startedAt = startedAt
	c.deadlineAt = c.def.DeadlineFor(startedAt)
	deadline := c.deadlineAt
	listeners := c.listeners
	c.mu.Unlock()

	c.log.Info().
		Time("deadline_at", deadline).
		Bool("monitoring", monitoring).
		Msg("Attempt started")
	notifyStatus(listeners, model.SessionStatusInProgress)

	if monitoring {
		c.monitor.StartMonitoring()
		// A refused fullscreen request is logged by the monitor; the attempt continues.
		_ = c.monitor.RequestFullscreen(ctx)
	}
	c.timer.StartUntil(deadline, c.onExpire)
	return nil
}

// restoreDrafts loads every cached (question, variant) into the store. Entries
// not newer than what is held in memory are ignored.
func (c *Controller) restoreDrafts(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DraftTimeout)
	defer cancel()

	restored := 0
	for i := range c.def.Questions {
		q := &c.def.Questions[i]
		for _, variant := range q.Variants() {
			e, ok, err := c.drafts.Load(ctx, q.ID, variant)
			if err != nil {
				c.log.Warn().Err(err).Str("question_id", q.ID).Str("variant", variant).Msg("Failed to load draft")
				continue
			}
			if !ok {
				continue
			}
			applied, err := c.store.Restore(q.ID, e.Value, e.Version, e.SavedAt)
			if err != nil {
				c.log.Warn().Err(err).Str("question_id", q.ID).Msg("Discarding invalid draft")
				continue
			}
			if applied {
				restored++
			}
		}
	}
	if restored > 0 {
		c.log.Info().Int("restored", restored).Msg("Drafts restored")
	}
}

// SetAnswer records an answer and persists the draft. Coding answers are
// batched until idle; everything else is written through.
func (c *Controller) SetAnswer(ctx context.Context, questionID string, v model.AnswerValue) (model.AnswerRecord, error) {
	if err := c.requireInProgress(); err != nil {
		return model.AnswerRecord{}, err
	}

	rec, changed, err := c.store.SetAnswer(questionID, v)
	if err != nil {
		return model.AnswerRecord{}, err
	}
	if !changed {
		return rec, nil
	}

	entry := draft.Entry{Version: rec.Version, Value: rec.Value}
	if rec.Value.Kind == model.AnswerKindCode {
		c.autosaver.Schedule(ctx, questionID, rec.Value.Variant(), entry)
		return rec, nil
	}

	dctx, cancel := context.WithTimeout(ctx, c.opts.DraftTimeout)
	defer cancel()
	// Draft failures are retried by the autosaver; memory stays authoritative.
	_ = c.autosaver.Save(dctx, questionID, rec.Value.Variant(), entry)
	return rec, nil
}

// ToggleFlag flips the review flag of questionID.
func (c *Controller) ToggleFlag(questionID string) (bool, error) {
	if err := c.requireInProgress(); err != nil {
		return false, err
	}
	return c.store.ToggleFlag(questionID)
}

// Navigate makes questionID current. Pending drafts of the question being
// left are flushed.
func (c *Controller) Navigate(ctx context.Context, questionID string) error {
	if _, ok := c.def.Question(questionID); !ok {
		return fmt.Errorf("%w: %s", answer.ErrUnknownQuestion, questionID)
	}
	if err := c.requireInProgress(); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.current
	c.current = questionID
	c.mu.Unlock()

	if prev != "" && prev != questionID {
		dctx, cancel := context.WithTimeout(ctx, c.opts.DraftTimeout)
		defer cancel()
		c.autosaver.Flush(dctx, prev)
	}
	return nil
}

// Tick advances the countdown and writes idle drafts.
func (c *Controller) Tick(ctx context.Context) {
	c.timer.Tick()

	if c.Status() == model.SessionStatusInProgress {
		dctx, cancel := context.WithTimeout(ctx, c.opts.DraftTimeout)
		defer cancel()
		c.autosaver.FlushIdle(dctx)
	}
}

// Run ticks once per second until ctx is done or the attempt ends.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.deps.Clock.NewTicker(timer.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Tick(ctx)
			if c.Status().IsFinal() {
				return
			}
		}
	}
}

// Close detaches the controller from its event source and stops the timer.
func (c *Controller) Close() {
	c.timer.Stop()
	c.monitor.Close()
}

// Status returns the current status.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the render snapshot.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	st := model.SessionState{
		AttemptID:       c.opts.AttemptID,
		ExamID:          c.def.ID,
		Status:          c.status,
		CurrentQuestion: c.current,
		Termination:     c.termination,
	}
	if !c.startedAt.IsZero() {
		started, deadline := c.startedAt, c.deadlineAt
		st.StartedAt = &started
		st.DeadlineAt = &deadline
	}
	if c.consent != nil {
		consent := *c.consent
		st.Consent = &consent
	}
	c.mu.Unlock()

	st.Answers = c.store.AllAnswers()
	st.Flags = c.store.Flags()
	st.Integrity = c.monitor.State()
	st.Timer = c.timer.State()
	return st
}

// Events returns the integrity log.
func (c *Controller) Events() []model.IntegrityEvent {
	return c.monitor.Events()
}

// Payload returns a copy of the frozen submission payload, nil before
// submission began.
func (c *Controller) Payload() *model.SubmissionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil {
		return nil
	}
	return c.payload.Clone()
}

// Result returns the score of a delivered submission, nil otherwise.
func (c *Controller) Result() *scoring.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	r.Questions = append([]scoring.QuestionResult(nil), c.result.Questions...)
	return &r
}

func (c *Controller) requireInProgress() error {
	switch st := c.Status(); {
	case st == model.SessionStatusInProgress:
		return nil
	case st == model.SessionStatusSubmitting || st.IsFinal():
		return ErrAnswersFrozen
	default:
		return fmt.Errorf("%w: %s", ErrNotInProgress, st)
	}
}

func (c *Controller) transition(next model.SessionStatus, reason model.TerminationReason) error {
	c.mu.Lock()
	if !c.status.CanTransition(next) {
		cur := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, cur, next)
	}
	c.status = next
	if reason != model.TerminationNone {
		c.termination = reason
	}
	listeners := c.listeners
	c.mu.Unlock()

	notifyStatus(listeners, next)
	return nil
}

func (c *Controller) onExpire() {
	c.log.Info().Msg("Time expired, submitting")
	if err := c.submit(context.Background(), model.SubmitTriggerTimeout); err != nil && !isSubmitConflict(err) {
		c.log.Error().Err(err).Msg("Timeout submission failed")
	}
}

func (c *Controller) onViolation(state model.IntegrityState) {
	if !c.opts.Policy.Exceeded(state) {
		return
	}
	c.log.Warn().
		Int("tab_switch_count", state.TabSwitchCount).
		Int("fullscreen_exit_count", state.FullscreenExitCount).
		Msg("Integrity policy exceeded, ending attempt")
	if err := c.submit(context.Background(), model.SubmitTriggerIntegrityPolicy); err != nil && !isSubmitConflict(err) {
		c.log.Error().Err(err).Msg("Policy submission failed")
	}
}

func notifyStatus(listeners []func(model.SessionStatus), st model.SessionStatus) {
	for _, fn := range listeners {
		fn(st)
	}
}
