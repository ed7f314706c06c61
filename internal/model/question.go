package model

import "errors"

// QuestionType determines the shape of an answer value.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeCoding         QuestionType = "coding"
)

// AnswerKind returns the answer variant accepted by this question type.
func (t QuestionType) AnswerKind() AnswerKind {
	switch t {
	case QuestionTypeSingleChoice:
		return AnswerKindChoice
	case QuestionTypeMultipleChoice:
		return AnswerKindChoices
	case QuestionTypeShortAnswer, QuestionTypeEssay:
		return AnswerKindText
	case QuestionTypeCoding:
		return AnswerKindCode
	default:
		return ""
	}
}

// Choice is one selectable option of a choice question.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TestCase is an input/expected-output pair for coding questions.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden"`
}

// QuestionSpec describes a single question and its grading data.
type QuestionSpec struct {
	ID     string       `json:"id"`
	Type   QuestionType `json:"type"`
	Prompt string       `json:"prompt"`
	Points float64      `json:"points"`

	Choices []Choice `json:"choices,omitempty"`
	// CorrectChoices holds the correct choice ids (exactly one for single choice).
	CorrectChoices []string `json:"correct_choices,omitempty"`
	// AcceptedAnswers lists the accepted texts for short-answer questions.
	AcceptedAnswers []string `json:"accepted_answers,omitempty"`

	Languages []string   `json:"languages,omitempty"`
	TestCases []TestCase `json:"test_cases,omitempty"`
}

// HasChoice reports whether id is one of the question's choices.
func (q *QuestionSpec) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether a coding question accepts lang.
// An empty language list accepts anything.
func (q *QuestionSpec) SupportsLanguage(lang string) bool {
	if len(q.Languages) == 0 {
		return true
	}
	for _, l := range q.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Variants returns the draft-cache variants used for this question.
func (q *QuestionSpec) Variants() []string {
	if q.Type == QuestionTypeCoding {
		return append([]string(nil), q.Languages...)
	}
	return []string{DefaultVariant}
}

// Validate checks the question is internally consistent.
func (q *QuestionSpec) Validate() error {
	if q.Type.AnswerKind() == "" {
		return errors.New("unknown question type")
	}
	if q.Points < 0 {
		return errors.New("points must not be negative")
	}

	switch q.Type {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice:
		if len(q.Choices) == 0 {
			return errors.New("choice question has no choices")
		}
		if q.Type == QuestionTypeSingleChoice && len(q.CorrectChoices) > 1 {
			return errors.New("single choice question has more than one correct choice")
		}
		for _, id := range q.CorrectChoices {
			if !q.HasChoice(id) {
				return errors.New("correct choice " + id + " is not a choice")
			}
		}
	case QuestionTypeCoding:
		if len(q.Languages) == 0 {
			return errors.New("coding question has no languages")
		}
	}
	return nil
}

// ForStudent returns a copy without grading data or hidden test cases.
func (q QuestionSpec) ForStudent() QuestionSpec {
	q.CorrectChoices = nil
	q.AcceptedAnswers = nil
	q.Choices = append([]Choice(nil), q.Choices...)
	q.Languages = append([]string(nil), q.Languages...)
	var visible []TestCase
	for _, tc := range q.TestCases {
		if !tc.Hidden {
			visible = append(visible, tc)
		}
	}
	q.TestCases = visible
	return q
}
