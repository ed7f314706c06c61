package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/scoring"
)

// ScoredSubmission is a delivered payload with its grading result.
type ScoredSubmission struct {
	Payload *model.SubmissionPayload
	Result  scoring.Result
}

// SubmissionRepository writes delivered submissions.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// SaveBatch stores the outcome of every submission and upserts its answers in
// one transaction.
func (r *SubmissionRepository) SaveBatch(ctx context.Context, batch []ScoredSubmission) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateAttemptOutcomes(ctx, tx, batch); err != nil {
		return err
	}
	if err := upsertAnswers(ctx, tx, batch); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updateAttemptOutcomes(ctx context.Context, tx pgx.Tx, batch []ScoredSubmission) error {
	n := len(batch)
	ids := make([]uuid.UUID, 0, n)
	triggers := make([]string, 0, n)
	tabSwitches := make([]int, 0, n)
	fullscreenExits := make([]int, 0, n)
	cheated := make([]bool, 0, n)
	flagged := make([]bool, 0, n)
	totals := make([]float64, 0, n)
	maxes := make([]float64, 0, n)
	pending := make([]int, 0, n)
	submittedAts := make([]time.Time, 0, n)

	for _, s := range batch {
		p := s.Payload
		ids = append(ids, p.AttemptID)
		triggers = append(triggers, string(p.Trigger))
		tabSwitches = append(tabSwitches, p.Integrity.TabSwitchCount)
		fullscreenExits = append(fullscreenExits, p.Integrity.FullscreenExitCount)
		cheated = append(cheated, p.Cheated)
		flagged = append(flagged, p.FlaggedForReview)
		totals = append(totals, s.Result.TotalScore)
		maxes = append(maxes, s.Result.MaxScore)
		pending = append(pending, s.Result.PendingCount)
		submittedAts = append(submittedAts, p.Timings.SubmittedAt)
	}

	_, err := tx.Exec(ctx, `
		UPDATE attempts AS a
		SET submit_trigger        = t.submit_trigger,
		    tab_switch_count      = t.tab_switches,
		    fullscreen_exit_count = t.fullscreen_exits,
		    cheated               = t.cheated,
		    flagged_for_review    = t.flagged,
		    total_score           = t.total_score,
		    max_score             = t.max_score,
		    pending_count         = t.pending,
		    finished_at           = COALESCE(a.finished_at, t.submitted_at)
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::int[],
			$4::int[],
			$5::bool[],
			$6::bool[],
			$7::float8[],
			$8::float8[],
			$9::int[],
			$10::timestamptz[]
		) AS t (id, submit_trigger, tab_switches, fullscreen_exits, cheated, flagged,
		        total_score, max_score, pending, submitted_at)
		WHERE a.id = t.id`,
		ids, triggers, tabSwitches, fullscreenExits, cheated, flagged, totals, maxes, pending, submittedAts,
	)
	if err != nil {
		return fmt.Errorf("update attempts: %w", err)
	}
	return nil
}

func upsertAnswers(ctx context.Context, tx pgx.Tx, batch []ScoredSubmission) error {
	var (
		attemptIDs  []uuid.UUID
		questionIDs []string
		values      []string
		sources     []*string
		flags       []bool
		statuses    []string
		earned      []float64
		modifiedAts []*time.Time
	)

	for _, s := range batch {
		p := s.Payload
		flagged := make(map[string]bool, len(p.Flags))
		for _, id := range p.Flags {
			flagged[id] = true
		}

		for _, q := range s.Result.Questions {
			rec, answered := p.Answers[q.QuestionID]
			if !answered && !flagged[q.QuestionID] {
				continue
			}

			value, err := json.Marshal(rec.Value)
			if err != nil {
				return fmt.Errorf("marshal answer %s: %w", q.QuestionID, err)
			}
			var src *string
			if len(rec.Sources) > 0 {
				raw, err := json.Marshal(rec.Sources)
				if err != nil {
					return fmt.Errorf("marshal sources %s: %w", q.QuestionID, err)
				}
				str := string(raw)
				src = &str
			}
			var modified *time.Time
			if !rec.LastModifiedAt.IsZero() {
				at := rec.LastModifiedAt
				modified = &at
			}

			attemptIDs = append(attemptIDs, p.AttemptID)
			questionIDs = append(questionIDs, q.QuestionID)
			values = append(values, string(value))
			sources = append(sources, src)
			flags = append(flags, flagged[q.QuestionID])
			statuses = append(statuses, string(q.Status))
			earned = append(earned, q.EarnedPoints)
			modifiedAts = append(modifiedAts, modified)
		}
	}

	if len(attemptIDs) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO attempt_answers
			(attempt_id, question_id, value, sources, flagged, status, earned_points, last_modified_at)
		SELECT u.attempt_id, u.question_id, u.value::jsonb, u.sources::jsonb,
		       u.flagged, u.status, u.earned_points, u.last_modified_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::text[],
			$4::text[],
			$5::bool[],
			$6::text[],
			$7::float8[],
			$8::timestamptz[]
		) AS u (attempt_id, question_id, value, sources, flagged, status, earned_points, last_modified_at)
		ON CONFLICT (attempt_id, question_id) DO UPDATE
		SET value            = EXCLUDED.value,
		    sources          = EXCLUDED.sources,
		    flagged          = EXCLUDED.flagged,
		    status           = EXCLUDED.status,
		    earned_points    = EXCLUDED.earned_points,
		    last_modified_at = EXCLUDED.last_modified_at`,
		attemptIDs, questionIDs, values, sources, flags, statuses, earned, modifiedAts,
	)
	if err != nil {
		return fmt.Errorf("upsert answers: %w", err)
	}
	return nil
}

// IntegrityRepository writes the integrity event log.
type IntegrityRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrityRepository creates a new IntegrityRepository.
func NewIntegrityRepository(pool *pgxpool.Pool) *IntegrityRepository {
	return &IntegrityRepository{pool: pool}
}

var integrityColumns = []string{"attempt_id", "exam_id", "student_id", "event_type", "recorded_at"}

// CopyEvents bulk-loads records with COPY.
func (r *IntegrityRepository) CopyEvents(ctx context.Context, recs []model.IntegrityRecord) error {
	rows := make([][]interface{}, 0, len(recs))
	for _, rec := range recs {
		row, err := integrityRow(rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"attempt_integrity_events"},
		integrityColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertEvent stores a single record.
func (r *IntegrityRepository) InsertEvent(ctx context.Context, rec model.IntegrityRecord) error {
	row, err := integrityRow(rec)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO attempt_integrity_events (attempt_id, exam_id, student_id, event_type, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row...,
	)
	return err
}

// ErrMalformedRecord marks a record that can never be stored.
var ErrMalformedRecord = errors.New("malformed integrity record")

func integrityRow(rec model.IntegrityRecord) ([]interface{}, error) {
	attemptID, err := uuid.Parse(rec.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("%w: attempt id %q", ErrMalformedRecord, rec.AttemptID)
	}
	examID, err := uuid.Parse(rec.ExamID)
	if err != nil {
		return nil, fmt.Errorf("%w: exam id %q", ErrMalformedRecord, rec.ExamID)
	}
	return []interface{}{
		attemptID, examID, rec.StudentID, string(rec.Type), time.UnixMilli(rec.Timestamp).UTC(),
	}, nil
}
