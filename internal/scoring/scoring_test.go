package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func scoringDefinition() *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:              uuid.New(),
		DurationSeconds: 3600,
		Questions: []model.QuestionSpec{
			{ID: "single", Type: model.QuestionTypeSingleChoice, Points: 2,
				Choices: []model.Choice{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}, CorrectChoices: []string{"c2"}},
			{ID: "multi", Type: model.QuestionTypeMultipleChoice, Points: 4,
				Choices: []model.Choice{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}, CorrectChoices: []string{"c1", "c3"}},
			{ID: "short", Type: model.QuestionTypeShortAnswer, Points: 1, AcceptedAnswers: []string{"Photosynthesis", "fotosintesis"}},
			{ID: "essay", Type: model.QuestionTypeEssay, Points: 10},
			{ID: "code", Type: model.QuestionTypeCoding, Points: 5, Languages: []string{"python"}},
		},
	}
}

func answers(pairs ...interface{}) map[string]model.AnswerRecord {
	out := make(map[string]model.AnswerRecord)
	for i := 0; i < len(pairs); i += 2 {
		id := pairs[i].(string)
		out[id] = model.AnswerRecord{QuestionID: id, Value: pairs[i+1].(model.AnswerValue)}
	}
	return out
}

func resultFor(t *testing.T, r Result, id string) QuestionResult {
	t.Helper()
	for _, q := range r.Questions {
		if q.QuestionID == id {
			return q
		}
	}
	t.Fatalf("no result for %s", id)
	return QuestionResult{}
}

func TestScoreQuestionExactness(t *testing.T) {
	def := scoringDefinition()

	tests := []struct {
		name   string
		qid    string
		value  model.AnswerValue
		status QuestionStatus
		earned float64
	}{
		{"single correct", "single", model.SingleChoice("c2"), StatusCorrect, 2},
		{"single wrong", "single", model.SingleChoice("c1"), StatusIncorrect, 0},
		{"single empty", "single", model.SingleChoice(""), StatusUnanswered, 0},
		{"multi subset no partial credit", "multi", model.MultipleChoice("c1"), StatusIncorrect, 0},
		{"multi exact", "multi", model.MultipleChoice("c1", "c3"), StatusCorrect, 4},
		{"multi exact reordered", "multi", model.MultipleChoice("c3", "c1"), StatusCorrect, 4},
		{"multi superset", "multi", model.MultipleChoice("c1", "c2", "c3"), StatusIncorrect, 0},
		{"multi empty", "multi", model.MultipleChoice(), StatusUnanswered, 0},
		{"short case-insensitive", "short", model.Text("PHOTOSYNTHESIS"), StatusCorrect, 1},
		{"short containment", "short", model.Text("  it is fotosintesis, I think "), StatusCorrect, 1},
		{"short wrong", "short", model.Text("respiration"), StatusIncorrect, 0},
		{"short blank", "short", model.Text("   "), StatusIncorrect, 0},
		{"essay pending", "essay", model.Text("long text"), StatusPending, 0},
		{"coding pending", "code", model.Code("python", "print(1)"), StatusPending, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Aggregate(def, answers(tt.qid, tt.value), nil)
			got := resultFor(t, r, tt.qid)
			if got.Status != tt.status {
				t.Errorf("status = %s, want %s", got.Status, tt.status)
			}
			if got.EarnedPoints != tt.earned {
				t.Errorf("earned = %v, want %v", got.EarnedPoints, tt.earned)
			}
		})
	}
}

func TestAggregateTotals(t *testing.T) {
	def := scoringDefinition()
	ans := answers(
		"single", model.SingleChoice("c2"),
		"multi", model.MultipleChoice("c1"),
		"short", model.Text("photosynthesis"),
		"essay", model.Text("..."),
	)

	r := Aggregate(def, ans, nil)
	if r.TotalScore != 3 {
		t.Errorf("expected total 3, got %v", r.TotalScore)
	}
	if r.MaxScore != 22 {
		t.Errorf("expected max 22, got %v", r.MaxScore)
	}
	if r.GradedMax != 7 {
		t.Errorf("expected graded max 7, got %v", r.GradedMax)
	}
	if r.PendingCount != 2 || r.Complete() {
		t.Errorf("expected 2 pending, got %d", r.PendingCount)
	}

	// Supplying grades moves pending questions into the total.
	r = Aggregate(def, ans, map[string]float64{"essay": 8, "code": 99})
	if r.PendingCount != 0 || !r.Complete() {
		t.Fatalf("expected no pending, got %d", r.PendingCount)
	}
	if r.TotalScore != 16 {
		t.Errorf("expected total 16 (3 + 8 + clamped 5), got %v", r.TotalScore)
	}
	if got := resultFor(t, r, "code"); got.Status != StatusGraded || got.EarnedPoints != 5 {
		t.Errorf("expected clamped grade, got %+v", got)
	}
}

func TestAggregateDoesNotMutateAnswers(t *testing.T) {
	def := scoringDefinition()
	ans := answers("multi", model.MultipleChoice("c3", "c1"))
	before := append([]string(nil), ans["multi"].Value.Choices...)

	Aggregate(def, ans, nil)

	after := ans["multi"].Value.Choices
	if len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Fatalf("answers mutated: %v → %v", before, after)
	}
}

func TestPercentage(t *testing.T) {
	if p := (Result{}).Percentage(); p != 0 {
		t.Errorf("expected 0 for empty result, got %v", p)
	}
	r := Result{TotalScore: 3, GradedMax: 4}
	if p := r.Percentage(); p != 75 {
		t.Errorf("expected 75, got %v", p)
	}
}
