package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ExamRepository loads exam definitions.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetDefinition loads an exam and its questions in position order.
func (r *ExamRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	d := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, exam_type, duration_seconds, start_at, end_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.Type, &d.DurationSeconds, &d.StartAt, &d.EndAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select exam: %w", err)
	}

	questions, err := r.listQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Questions = questions
	return d, nil
}

// ListOpenIDs returns exams whose window has not closed.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListOpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams
		 WHERE end_at IS NULL OR end_at > NOW()
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ExamRepository) listQuestions(ctx context.Context, examID uuid.UUID) ([]model.QuestionSpec, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, question_type, points, spec
		 FROM exam_questions
		 WHERE exam_id = $1
		 ORDER BY position`, examID)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()

	var questions []model.QuestionSpec
	for rows.Next() {
		var (
			q    model.QuestionSpec
			id   string
			typ  model.QuestionType
			pts  float64
			spec []byte
		)
		if err := rows.Scan(&id, &typ, &pts, &spec); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(spec, &q); err != nil {
			return nil, fmt.Errorf("decode question %s: %w", id, err)
		}
		// Columns are authoritative over the JSON document.
		q.ID, q.Type, q.Points = id, typ, pts
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
