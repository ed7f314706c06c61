package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/integrity"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/scoring"
	"github.com/stemsi/exstem-proctor/internal/session"
)

// ErrAttemptClosed is returned for commands on an attempt that ended before
// this process saw it.
var ErrAttemptClosed = errors.New("attempt already closed")

const persistTimeout = 5 * time.Second

// AttemptStore persists attempt records.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	MarkStarted(ctx context.Context, id uuid.UUID, consent model.Consent, startedAt, deadlineAt time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.SessionStatus, termination model.TerminationReason) error
	ListSubmitting(ctx context.Context) ([]uuid.UUID, error)
	LoadSubmission(ctx context.Context, id uuid.UUID) (*repository.StoredSubmission, error)
}

// DraftFactory returns the draft store of one attempt.
type DraftFactory func(attemptID uuid.UUID) draft.KV

// AttemptDeps wires an AttemptService.
type AttemptDeps struct {
	Exams     *ExamService
	Attempts  AttemptStore
	Drafts    DraftFactory
	Submitter session.Submitter
	Recovery  session.Recovery
	// Redis is optional; when set, status and integrity changes are published
	// on the exam monitor channel.
	Redis    *redis.Client
	Clock    clockwork.Clock
	Defaults session.Options
	Logger   zerolog.Logger
}

// AttemptService keeps the live session controllers of this process and
// resumes attempts that were started before a restart.
type AttemptService struct {
	exams     *ExamService
	attempts  AttemptStore
	drafts    DraftFactory
	submitter session.Submitter
	recovery  session.Recovery
	rdb       *redis.Client
	clock     clockwork.Clock
	defaults  session.Options
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	live map[uuid.UUID]*LiveAttempt
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(d AttemptDeps) *AttemptService {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Drafts == nil {
		d.Drafts = func(uuid.UUID) draft.KV { return draft.NewMemoryKV() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AttemptService{
		exams:     d.Exams,
		attempts:  d.Attempts,
		drafts:    d.Drafts,
		submitter: d.Submitter,
		recovery:  d.Recovery,
		rdb:       d.Redis,
		clock:     d.Clock,
		defaults:  d.Defaults,
		log:       d.Logger.With().Str("component", "attempt_service").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		live:      make(map[uuid.UUID]*LiveAttempt),
	}
}

// Create opens a new attempt in setup.
func (s *AttemptService) Create(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionState, error) {
	def, err := s.exams.GetDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}

	a := &model.Attempt{
		ID:        uuid.New(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.SessionStatusSetup,
	}
	if err := s.attempts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	l, err := s.spawn(def, a, nil)
	if err != nil {
		return nil, err
	}
	if err := l.Controller.EnterSetup(); err != nil {
		return nil, err
	}
	s.wire(l)

	s.mu.Lock()
	s.live[a.ID] = l
	s.mu.Unlock()

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Attempt created")

	st := l.Controller.State()
	return &st, nil
}

// Consent records the monitoring decision of an attempt in setup.
func (s *AttemptService) Consent(ctx context.Context, id uuid.UUID, c model.Consent) error {
	l, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return l.Controller.RecordConsent(c)
}

// Start begins the attempt and its tick loop.
func (s *AttemptService) Start(ctx context.Context, id uuid.UUID) (*model.SessionState, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.Controller.Start(ctx); err != nil {
		return nil, err
	}

	st := l.Controller.State()
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.attempts.MarkStarted(pctx, id, *st.Consent, *st.StartedAt, *st.DeadlineAt); err != nil {
		s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Failed to persist attempt start")
	}

	l.run(s.ctx)
	return &st, nil
}

// State returns the render snapshot of an attempt.
func (s *AttemptService) State(ctx context.Context, id uuid.UUID) (*model.SessionState, error) {
	l, err := s.Get(ctx, id)
	if errors.Is(err, ErrAttemptClosed) {
		return s.closedState(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	st := l.Controller.State()
	return &st, nil
}

// Paper returns the exam as shown to the student.
func (s *AttemptService) Paper(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Controller.Definition().ForStudent(), nil
}

// Submit ends the attempt on the student's request.
func (s *AttemptService) Submit(ctx context.Context, id uuid.UUID) (*model.SessionState, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.Controller.Submit(ctx); err != nil {
		return nil, err
	}
	st := l.Controller.State()
	return &st, nil
}

// Result returns the score of a delivered submission. Attempts that ended
// before this process saw them are scored from storage.
func (s *AttemptService) Result(ctx context.Context, id uuid.UUID) (*scoring.Result, error) {
	l, err := s.Get(ctx, id)
	if errors.Is(err, ErrAttemptClosed) {
		return s.storedResult(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	r := l.Controller.Result()
	if r == nil {
		return nil, ErrResultNotReady
	}
	return r, nil
}

// Get returns the live attempt, resuming it from storage if this process has
// not seen it yet.
func (s *AttemptService) Get(ctx context.Context, id uuid.UUID) (*LiveAttempt, error) {
	s.mu.RLock()
	l, ok := s.live[id]
	s.mu.RUnlock()
	if ok {
		return l, nil
	}
	return s.resume(ctx, id)
}

// Shutdown stops every tick loop and detaches the controllers.
func (s *AttemptService) Shutdown() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.live {
		l.Controller.Close()
	}
	s.log.Info().Int("attempts", len(s.live)).Msg("Attempt service stopped")
}

func (s *AttemptService) resume(ctx context.Context, id uuid.UUID) (*LiveAttempt, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	switch a.Status {
	case model.SessionStatusSetup, model.SessionStatusInProgress, model.SessionStatusSubmitting:
	default:
		return nil, ErrAttemptClosed
	}
	interrupted := a.Status == model.SessionStatusSubmitting
	if interrupted && a.StartedAt == nil {
		return nil, ErrAttemptClosed
	}

	def, err := s.exams.GetDefinition(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}

	l, err := s.spawn(def, a, a.StartedAt)
	if err != nil {
		return nil, err
	}
	if err := l.Controller.EnterSetup(); err != nil {
		return nil, err
	}
	if a.Status != model.SessionStatusSetup {
		consent := a.Consent()
		if consent == nil {
			consent = &model.Consent{Reason: "resumed without recorded consent"}
		}
		if err := l.Controller.RecordConsent(*consent); err != nil {
			return nil, err
		}
	}
	if a.Status == model.SessionStatusInProgress {
		if err := l.Controller.Start(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if existing, ok := s.live[id]; ok {
		s.mu.Unlock()
		l.Controller.Close()
		return existing, nil
	}
	s.live[id] = l
	s.mu.Unlock()

	s.wire(l)
	if a.Status == model.SessionStatusInProgress {
		l.run(s.ctx)
	}

	s.log.Info().
		Str("attempt_id", id.String()).
		Str("status", string(a.Status)).
		Msg("Attempt resumed")

	if interrupted {
		// Failures end the attempt terminated and parked for recovery.
		if err := l.Controller.ResumeSubmission(ctx); err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Interrupted submission not delivered")
		}
	}
	return l, nil
}

// ResumePending re-delivers every attempt this or an earlier process left in
// submitting. It returns how many were picked up.
func (s *AttemptService) ResumePending(ctx context.Context) (int, error) {
	ids, err := s.attempts.ListSubmitting(ctx)
	if err != nil {
		return 0, fmt.Errorf("list submitting attempts: %w", err)
	}

	n := 0
	for _, id := range ids {
		if _, err := s.Get(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Failed to resume submission")
			continue
		}
		n++
	}
	return n, nil
}

func (s *AttemptService) storedResult(ctx context.Context, id uuid.UUID) (*scoring.Result, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sub, err := s.attempts.LoadSubmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if sub == nil {
		return nil, ErrResultNotReady
	}
	def, err := s.exams.GetDefinition(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	r := scoring.Aggregate(def, sub.Answers, sub.Grades)
	return &r, nil
}

func (s *AttemptService) closedState(ctx context.Context, id uuid.UUID) (*model.SessionState, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.SessionState{
		AttemptID:   a.ID,
		ExamID:      a.ExamID,
		Status:      a.Status,
		StartedAt:   a.StartedAt,
		DeadlineAt:  a.DeadlineAt,
		Termination: a.Termination,
		Consent:     a.Consent(),
	}, nil
}

func (s *AttemptService) spawn(def *model.ExamDefinition, a *model.Attempt, startedAt *time.Time) (*LiveAttempt, error) {
	source := integrity.NewRemoteEventSource()
	opts := s.defaults
	opts.AttemptID = a.ID
	opts.StudentID = a.StudentID
	opts.StartedAt = startedAt

	ctrl, err := session.New(def, session.Deps{
		Clock:     s.clock,
		DraftKV:   s.drafts(a.ID),
		Submitter: s.submitter,
		Events:    source,
		Recovery:  s.recovery,
		Logger:    s.log,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExam, err)
	}

	l := &LiveAttempt{
		ID:         a.ID,
		ExamID:     a.ExamID,
		StudentID:  a.StudentID,
		Controller: ctrl,
		Source:     source,
		hub:        newHub(),
	}
	source.SetFullscreenRequester(func(context.Context) error {
		if l.hub.broadcast(Event{Type: EventFullscreenRequest}) == 0 {
			return integrity.ErrFullscreenUnavailable
		}
		return nil
	})
	return l, nil
}

// wire forwards controller notifications to subscribers, storage and the
// exam monitor channel.
func (s *AttemptService) wire(l *LiveAttempt) {
	l.Controller.OnTick(func(remaining int) {
		l.hub.broadcast(Event{Type: EventTick, Remaining: remaining})
	})
	l.Controller.OnIntegrity(func(st model.IntegrityState) {
		state := st
		l.hub.broadcast(Event{Type: EventIntegrity, Integrity: &state})
		s.publish(l, Event{Type: EventIntegrity, Integrity: &state})
	})
	l.Controller.OnStatusChange(func(status model.SessionStatus) {
		termination := l.Controller.State().Termination

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.attempts.UpdateStatus(ctx, l.ID, status, termination); err != nil {
			s.log.Error().Err(err).
				Str("attempt_id", l.ID.String()).
				Str("status", string(status)).
				Msg("Failed to persist status")
		}

		ev := Event{Type: EventStatus, Status: status, Termination: termination}
		l.hub.broadcast(ev)
		s.publish(l, ev)
	})
}

type monitorMessage struct {
	AttemptID string `json:"attempt_id"`
	StudentID int    `json:"student_id"`
	Event
}

func (s *AttemptService) publish(l *LiveAttempt, ev Event) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(monitorMessage{AttemptID: l.ID.String(), StudentID: l.StudentID, Event: ev})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(l.ExamID.String()), raw).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Monitor publish failed")
	}
}
