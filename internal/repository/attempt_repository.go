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

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt in setup.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, exam_id, student_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		a.ID, a.ExamID, a.StudentID, a.Status,
	).Scan(&a.CreatedAt)
}

// GetByID retrieves an attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	var termination *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, monitoring_enabled, COALESCE(consent_reason, ''),
		        started_at, deadline_at, finished_at, termination, total_score, created_at
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.MonitoringEnabled, &a.ConsentReason,
		&a.StartedAt, &a.DeadlineAt, &a.FinishedAt, &termination, &a.TotalScore, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select attempt: %w", err)
	}
	if termination != nil {
		a.Termination = model.TerminationReason(*termination)
	}
	return a, nil
}

// MarkStarted records the consent decision and the attempt time line.
func (r *AttemptRepository) MarkStarted(ctx context.Context, id uuid.UUID, consent model.Consent, startedAt, deadlineAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, monitoring_enabled = $2, consent_reason = NULLIF($3, ''),
		     started_at = $4, deadline_at = $5
		 WHERE id = $6`,
		model.SessionStatusInProgress, consent.MonitoringEnabled, consent.Reason,
		startedAt, deadlineAt, id)
	return err
}

// UpdateStatus moves the attempt forward. Final statuses also stamp finished_at.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SessionStatus, termination model.TerminationReason) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1,
		     termination = COALESCE(NULLIF($2, ''), termination),
		     finished_at = CASE WHEN $3 THEN COALESCE(finished_at, NOW()) ELSE finished_at END
		 WHERE id = $4`,
		status, string(termination), status.IsFinal(), id)
	return err
}

// ListSubmitting returns the attempts whose delivery was interrupted.
func (r *AttemptRepository) ListSubmitting(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts WHERE status = $1 ORDER BY created_at`,
		model.SessionStatusSubmitting)
	if err != nil {
		return nil, fmt.Errorf("select submitting attempts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan submitting attempts: %w", err)
	}
	return ids, nil
}

// StoredSubmission is what the persist worker kept of a delivered payload.
type StoredSubmission struct {
	Answers map[string]model.AnswerRecord
	// Grades holds the earned points of questions graded by a reviewer.
	Grades map[string]float64
}

// LoadSubmission reads the stored answers of an attempt. It returns nil while
// the outcome has not been written yet.
func (r *AttemptRepository) LoadSubmission(ctx context.Context, id uuid.UUID) (*StoredSubmission, error) {
	var total *float64
	err := r.pool.QueryRow(ctx, `SELECT total_score FROM attempts WHERE id = $1`, id).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select attempt outcome: %w", err)
	}
	if total == nil {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, value, sources, status, earned_points, last_modified_at
		 FROM attempt_answers WHERE attempt_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("select attempt answers: %w", err)
	}
	defer rows.Close()

	sub := &StoredSubmission{
		Answers: make(map[string]model.AnswerRecord),
		Grades:  make(map[string]float64),
	}
	for rows.Next() {
		var (
			rec      model.AnswerRecord
			value    []byte
			sources  []byte
			status   string
			earned   float64
			modified *time.Time
		)
		if err := rows.Scan(&rec.QuestionID, &value, &sources, &status, &earned, &modified); err != nil {
			return nil, fmt.Errorf("scan attempt answer: %w", err)
		}
		if status == string(scoring.StatusGraded) {
			sub.Grades[rec.QuestionID] = earned
		}
		if err := json.Unmarshal(value, &rec.Value); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", rec.QuestionID, err)
		}
		if rec.Value.Kind == "" {
			// Flagged without an answer.
			continue
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &rec.Sources); err != nil {
				return nil, fmt.Errorf("decode sources %s: %w", rec.QuestionID, err)
			}
		}
		if modified != nil {
			rec.LastModifiedAt = *modified
		}
		sub.Answers[rec.QuestionID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt answers: %w", err)
	}
	return sub, nil
}
