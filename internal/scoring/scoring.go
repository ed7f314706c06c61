// Package scoring computes per-question and total scores from a frozen
// answer snapshot. It never mutates the answers it is given.
package scoring

import (
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionStatus is the grading outcome of one question.
type QuestionStatus string

const (
	StatusCorrect    QuestionStatus = "correct"
	StatusIncorrect  QuestionStatus = "incorrect"
	StatusUnanswered QuestionStatus = "unanswered"
	// StatusPending awaits an external grade (essay, coding, or missing key).
	StatusPending QuestionStatus = "pending"
	// StatusGraded carries an externally supplied grade.
	StatusGraded QuestionStatus = "graded"
)

// QuestionResult is the outcome for one question.
type QuestionResult struct {
	QuestionID   string             `json:"question_id"`
	Type         model.QuestionType `json:"type"`
	Status       QuestionStatus     `json:"status"`
	EarnedPoints float64            `json:"earned_points"`
	MaxPoints    float64            `json:"max_points"`
}

// Result is the read-only score report of an attempt.
type Result struct {
	Questions    []QuestionResult `json:"questions"`
	TotalScore   float64          `json:"total_score"`
	MaxScore     float64          `json:"max_score"`
	GradedMax    float64          `json:"graded_max"`
	PendingCount int              `json:"pending_count"`
}

// Percentage is TotalScore relative to the points of graded questions.
func (r Result) Percentage() float64 {
	if r.GradedMax <= 0 {
		return 0
	}
	return r.TotalScore / r.GradedMax * 100
}

// Complete reports whether no question is pending.
func (r Result) Complete() bool {
	return r.PendingCount == 0
}

// Aggregate grades answers against def. grades supplies external scores for
// questions that cannot be auto-graded; they are clamped to [0, points].
// Pending questions are excluded from TotalScore until graded.
func Aggregate(def *model.ExamDefinition, answers map[string]model.AnswerRecord, grades map[string]float64) Result {
	res := Result{Questions: make([]QuestionResult, 0, len(def.Questions))}

	for i := range def.Questions {
		q := &def.Questions[i]
		qr := gradeQuestion(q, answers[q.ID], grades)

		res.MaxScore += q.Points
		if qr.Status == StatusPending {
			res.PendingCount++
		} else {
			res.TotalScore += qr.EarnedPoints
			res.GradedMax += q.Points
		}
		res.Questions = append(res.Questions, qr)
	}
	return res
}

func gradeQuestion(q *model.QuestionSpec, rec model.AnswerRecord, grades map[string]float64) QuestionResult {
	qr := QuestionResult{QuestionID: q.ID, Type: q.Type, MaxPoints: q.Points}

	if g, ok := grades[q.ID]; ok {
		qr.Status = StatusGraded
		qr.EarnedPoints = clamp(g, 0, q.Points)
		return qr
	}

	v := rec.Value
	switch q.Type {
	case model.QuestionTypeEssay, model.QuestionTypeCoding:
		qr.Status = StatusPending
		return qr
	case model.QuestionTypeShortAnswer:
		if len(q.AcceptedAnswers) == 0 {
			qr.Status = StatusPending
			return qr
		}
	default:
		if len(q.CorrectChoices) == 0 {
			qr.Status = StatusPending
			return qr
		}
	}

	if v.Kind != q.Type.AnswerKind() || v.IsEmpty() {
		qr.Status = StatusUnanswered
		return qr
	}

	var correct bool
	switch q.Type {
	case model.QuestionTypeSingleChoice:
		correct = v.Choice == q.CorrectChoices[0]
	case model.QuestionTypeMultipleChoice:
		correct = model.SameSet(v.Choices, q.CorrectChoices)
	case model.QuestionTypeShortAnswer:
		correct = matchesAccepted(v.Text, q.AcceptedAnswers)
	}

	if correct {
		qr.Status = StatusCorrect
		qr.EarnedPoints = q.Points
	} else {
		qr.Status = StatusIncorrect
	}
	return qr
}

// matchesAccepted is a case-insensitive containment match of any accepted
// answer within the submitted text.
func matchesAccepted(submitted string, accepted []string) bool {
	s := strings.ToLower(strings.TrimSpace(submitted))
	if s == "" {
		return false
	}
	for _, a := range accepted {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && strings.Contains(s, a) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
