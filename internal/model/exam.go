package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExamType enumerates the kinds of exam the controller can run.
type ExamType string

const (
	ExamTypeStandard ExamType = "standard"
	ExamTypeCoding   ExamType = "coding"
)

// ExamDefinition is the fully-resolved, read-only exam an attempt is bound to.
// It must not be mutated once a session has been created from it.
type ExamDefinition struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Type            ExamType       `json:"type"`
	DurationSeconds int            `json:"duration_seconds"`
	Questions       []QuestionSpec `json:"questions"`
	StartAt         *time.Time     `json:"start_at,omitempty"`
	EndAt           *time.Time     `json:"end_at,omitempty"`
}

// Duration returns the configured attempt length.
func (d *ExamDefinition) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// Question looks up a question by id.
func (d *ExamDefinition) Question(id string) (*QuestionSpec, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i], true
		}
	}
	return nil, false
}

// QuestionIDs returns question ids in definition order.
func (d *ExamDefinition) QuestionIDs() []string {
	ids := make([]string, 0, len(d.Questions))
	for _, q := range d.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}

// DeadlineFor derives the attempt deadline: startedAt + duration, or the exam
// end window if that comes first.
func (d *ExamDefinition) DeadlineFor(startedAt time.Time) time.Time {
	deadline := startedAt.Add(d.Duration())
	if d.EndAt != nil && d.EndAt.Before(deadline) {
		return *d.EndAt
	}
	return deadline
}

// Validate checks the definition is usable for a session.
func (d *ExamDefinition) Validate() error {
	if d.DurationSeconds <= 0 {
		return errors.New("duration must be positive")
	}
	if len(d.Questions) == 0 {
		return errors.New("exam has no questions")
	}
	if d.StartAt != nil && d.EndAt != nil && !d.EndAt.After(*d.StartAt) {
		return errors.New("end_at must be after start_at")
	}

	seen := make(map[string]bool, len(d.Questions))
	for _, q := range d.Questions {
		if q.ID == "" {
			return errors.New("question id is required")
		}
		if !ValidQuestionID(q.ID) {
			return fmt.Errorf("question id %q must be 1-%d visible ASCII characters", q.ID, MaxQuestionIDLength)
		}
		if seen[q.ID] {
			return fmt.Errorf("duplicate question id: %s", q.ID)
		}
		seen[q.ID] = true
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
	}
	return nil
}

// MaxQuestionIDLength bounds question ids in definitions and client messages.
const MaxQuestionIDLength = 64

// ValidQuestionID reports whether id is non-empty, at most
// MaxQuestionIDLength bytes and made of visible ASCII only.
func ValidQuestionID(id string) bool {
	if id == "" || len(id) > MaxQuestionIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// ForStudent returns the exam paper without grading data.
func (d *ExamDefinition) ForStudent() *ExamDefinition {
	c := *d
	c.Questions = make([]QuestionSpec, len(d.Questions))
	for i, q := range d.Questions {
		c.Questions[i] = q.ForStudent()
	}
	return &c
}
