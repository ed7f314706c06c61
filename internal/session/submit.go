package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/scoring"
)

// Submit ends the attempt on the student's request. A second call while a
// submission is running returns ErrSubmitInFlight without side effects.
func (c *Controller) Submit(ctx context.Context) error {
	return c.submit(ctx, model.SubmitTriggerManual)
}

// ResumeSubmission re-delivers an attempt that was interrupted while
// submitting. The payload is rebuilt from the drafts; the timer and the
// integrity monitor are not restarted.
func (c *Controller) ResumeSubmission(ctx context.Context) error {
	if c.opts.StartedAt == nil {
		return fmt.Errorf("%w: resume submission without start time", ErrInvalidTransition)
	}

	c.mu.Lock()
	if c.status != model.SessionStatusSetup {
		st := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: resume submission in %s", ErrInvalidTransition, st)
	}
	if c.consent == nil {
		c.mu.Unlock()
		return ErrConsentRequired
	}
	c.mu.Unlock()

	c.restoreDrafts(ctx)

	c.mu.Lock()
	if c.status != model.SessionStatusSetup {
		st := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: resume submission in %s", ErrInvalidTransition, st)
	}
	c.status = model.SessionStatusInProgress
	c.startedAt = *c.opts.StartedAt
	c.deadlineAt = c.def.DeadlineFor(c.startedAt)
	c.mu.Unlock()

	c.log.Info().Msg("Resuming interrupted submission")
	return c.submit(ctx, model.SubmitTriggerResumed)
}

func (c *Controller) submit(ctx context.Context, trigger model.SubmitTrigger) error {
	// Delivery must outlive the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	payload, err := c.beginSubmission(ctx, trigger)
	if err != nil {
		return err
	}
	return c.deliver(ctx, payload)
}

// beginSubmission latches in_progress → submitting and freezes everything the
// payload is built from. Only one caller ever gets past the latch.
func (c *Controller) beginSubmission(ctx context.Context, trigger model.SubmitTrigger) (*model.SubmissionPayload, error) {
	c.mu.Lock()
	switch st := c.status; {
	case st == model.SessionStatusSubmitting:
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	case st.IsFinal():
		c.mu.Unlock()
		return nil, ErrAlreadySubmitted
	case st != model.SessionStatusInProgress:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: submit in %s", ErrInvalidTransition, st)
	}
	c.status = model.SessionStatusSubmitting
	listeners := c.listeners
	startedAt, deadlineAt := c.startedAt, c.deadlineAt
	var consent model.Consent
	if c.consent != nil {
		consent = *c.consent
	}
	c.mu.Unlock()

	answers, flags, err := c.store.Freeze()
	if err != nil {
		// Unreachable: the latch guarantees a single freeze.
		return nil, err
	}
	c.timer.Stop()
	c.monitor.StopMonitoring()

	payload := &model.SubmissionPayload{
		AttemptID:    c.opts.AttemptID,
		ExamID:       c.def.ID,
		StudentID:    c.opts.StudentID,
		Answers:      answers,
		Flags:        flags,
		Integrity:    c.monitor.State(),
		IntegrityLog: c.monitor.Events(),
		Cheated:      c.monitor.Cheated(),
		Consent:      consent,
		Trigger:      trigger,
		Timings: model.Timings{
			StartedAt:   startedAt,
			DeadlineAt:  deadlineAt,
			SubmittedAt: c.deps.Clock.Now(),
		},
		FlaggedForReview: trigger == model.SubmitTriggerIntegrityPolicy,
	}

	c.mu.Lock()
	c.payload = payload
	c.mu.Unlock()

	c.log.Info().
		Str("trigger", string(trigger)).
		Int("answers", len(answers)).
		Bool("cheated", payload.Cheated).
		Msg("Submission started")
	notifyStatus(listeners, model.SessionStatusSubmitting)

	// Drafts stay until the payload is safe elsewhere so an interrupted
	// delivery can be rebuilt after a restart.
	dctx, cancel := context.WithTimeout(ctx, c.opts.DraftTimeout)
	defer cancel()
	c.autosaver.FlushAll(dctx)

	return payload, nil
}

func (c *Controller) clearDrafts(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.DraftTimeout)
	defer cancel()
	if err := c.autosaver.Close(dctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to clear drafts")
	}
}

// deliver hands the payload to the transport with bounded retries and moves
// the attempt to its final status.
func (c *Controller) deliver(ctx context.Context, payload *model.SubmissionPayload) error {
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
		defer cancel()
		return c.deps.Submitter.Submit(actx, payload.Clone())
	}

	err := backoff.RetryNotify(op, c.newBackOff(ctx), func(err error, wait time.Duration) {
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Submission attempt failed, retrying")
	})

	c.monitor.Close()

	if err != nil {
		c.log.Error().Err(err).Int("attempts", attempt).Msg("Submission failed, handing payload to recovery")
		if c.handOff(ctx, payload) {
			c.clearDrafts(ctx)
		}
		if terr := c.transition(model.SessionStatusTerminated, model.TerminationSubmissionFailed); terr != nil {
			return terr
		}
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	c.clearDrafts(ctx)

	result := scoring.Aggregate(c.def, payload.Answers, nil)
	c.mu.Lock()
	c.result = &result
	c.mu.Unlock()

	if payload.Trigger == model.SubmitTriggerIntegrityPolicy {
		c.log.Info().Msg("Attempt terminated by integrity policy")
		return c.transition(model.SessionStatusTerminated, model.TerminationIntegrityPolicy)
	}
	c.log.Info().Float64("score", result.TotalScore).Msg("Attempt submitted")
	return c.transition(model.SessionStatusSubmitted, model.TerminationNone)
}

func (c *Controller) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.SubmitBackoff
	b.MaxInterval = 10 * c.opts.SubmitBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.SubmitAttempts-1)), ctx)
}

// handOff parks the payload for manual recovery and reports whether it was
// accepted.
func (c *Controller) handOff(ctx context.Context, payload *model.SubmissionPayload) bool {
	if c.deps.Recovery == nil {
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	defer cancel()
	if err := c.deps.Recovery.Recover(rctx, payload.Clone()); err != nil {
		c.log.Error().Err(err).Msg("Recovery sink rejected payload, keeping drafts")
		return false
	}
	return true
}

func isSubmitConflict(err error) bool {
	return errors.Is(err, ErrSubmitInFlight) || errors.Is(err, ErrAlreadySubmitted)
}
