package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/scoring"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// DefinitionSource resolves the exam a submission was taken against.
type DefinitionSource interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// SubmissionStore persists scored submissions.
type SubmissionStore interface {
	SaveBatch(ctx context.Context, batch []repository.ScoredSubmission) error
}

// SubmissionWorker consumes persist_submissions_queue, grades each payload and
// stores the outcome with its answers.
type SubmissionWorker struct {
	rdb   *redis.Client
	exams DefinitionSource
	store SubmissionStore
	log   zerolog.Logger
	loop  *batchLoop[*model.SubmissionPayload]
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(rdb *redis.Client, exams DefinitionSource, store SubmissionStore, opts BatchOptions, log zerolog.Logger) *SubmissionWorker {
	w := &SubmissionWorker{
		rdb:   rdb,
		exams: exams,
		store: store,
		log:   log.With().Str("component", "submission_worker").Logger(),
	}
	w.loop = &batchLoop[*model.SubmissionPayload]{
		rdb:    rdb,
		queue:  config.WorkerKey.PersistSubmissionsQueue,
		opts:   opts.withDefaults(),
		log:    w.log,
		decode: decodeSubmission,
		flush:  w.flushSafe,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")
	w.loop.run(ctx)
}

func decodeSubmission(raw string) (*model.SubmissionPayload, error) {
	var p model.SubmissionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if p.AttemptID == uuid.Nil {
		return nil, errors.New("missing attempt id")
	}
	return &p, nil
}

// flushSafe scores the batch and attempts a bulk write, then a row-by-row
// fallback. Items that still fail are returned for requeue.
func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []queued[*model.SubmissionPayload]) []queued[*model.SubmissionPayload] {
	var retry []queued[*model.SubmissionPayload]

	scored := make([]repository.ScoredSubmission, 0, len(batch))
	ready := make([]queued[*model.SubmissionPayload], 0, len(batch))
	for _, q := range batch {
		s, err := w.score(ctx, q.item)
		if errors.Is(err, service.ErrExamNotFound) || errors.Is(err, service.ErrInvalidExam) {
			w.park(ctx, q)
			continue
		}
		if err != nil {
			w.log.Warn().Err(err).Str("attempt_id", q.item.AttemptID.String()).Msg("Scoring failed, requeueing")
			retry = append(retry, q)
			continue
		}
		scored = append(scored, s)
		ready = append(ready, q)
	}
	if len(scored) == 0 {
		return retry
	}

	err := w.store.SaveBatch(ctx, scored)
	if err == nil {
		w.log.Debug().Int("count", len(scored)).Msg("Submissions persisted")
		return retry
	}

	w.log.Warn().Err(err).Int("count", len(scored)).Msg("Bulk submission write failed, attempting row-by-row recovery")
	for i, s := range scored {
		if err := w.store.SaveBatch(ctx, []repository.ScoredSubmission{s}); err != nil {
			w.log.Error().Err(err).Str("attempt_id", s.Payload.AttemptID.String()).Msg("Submission write failed, requeueing")
			retry = append(retry, ready[i])
		}
	}
	return retry
}

func (w *SubmissionWorker) score(ctx context.Context, p *model.SubmissionPayload) (repository.ScoredSubmission, error) {
	def, err := w.exams.GetDefinition(ctx, p.ExamID)
	if err != nil {
		return repository.ScoredSubmission{}, err
	}
	return repository.ScoredSubmission{
		Payload: p,
		Result:  scoring.Aggregate(def, p.Answers, nil),
	}, nil
}

// park moves a payload that can never be scored to the recovery queue. Its
// integrity log was already queued on delivery, so it is left out to keep a
// replay from storing the events twice.
func (w *SubmissionWorker) park(ctx context.Context, q queued[*model.SubmissionPayload]) {
	raw := q.raw
	parked := *q.item
	parked.IntegrityLog = nil
	if b, err := json.Marshal(&parked); err == nil {
		raw = string(b)
	}
	if err := w.rdb.RPush(ctx, config.WorkerKey.FailedSubmissionsQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Str("attempt_id", q.item.AttemptID.String()).
			Msg("CRITICAL: Failed to park unscorable submission. Data loss occurred.")
		return
	}
	w.log.Warn().
		Str("attempt_id", q.item.AttemptID.String()).
		Str("exam_id", q.item.ExamID.String()).
		Msg("Exam definition unavailable, submission parked")
}
