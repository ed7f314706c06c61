package answer

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func testDefinition() *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:              uuid.New(),
		Title:           "Physics midterm",
		Type:            model.ExamTypeStandard,
		DurationSeconds: 600,
		Questions: []model.QuestionSpec{
			{ID: "q1", Type: model.QuestionTypeSingleChoice, Points: 1,
				Choices: []model.Choice{{ID: "a"}, {ID: "b"}}, CorrectChoices: []string{"a"}},
			{ID: "q2", Type: model.QuestionTypeMultipleChoice, Points: 2,
				Choices: []model.Choice{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}, CorrectChoices: []string{"c1", "c3"}},
			{ID: "q3", Type: model.QuestionTypeShortAnswer, Points: 1, AcceptedAnswers: []string{"newton"}},
			{ID: "q4", Type: model.QuestionTypeCoding, Points: 5, Languages: []string{"python", "go"}},
		},
	}
}

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	return New(testDefinition(), clock), clock
}

func TestSetAnswerIdempotent(t *testing.T) {
	s, clock := newTestStore(t)

	rec, changed, err := s.SetAnswer("q1", model.SingleChoice("a"))
	if err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if !changed || rec.Version != 1 {
		t.Fatalf("expected first set to change with version 1, got changed=%v version=%d", changed, rec.Version)
	}
	first := rec.LastModifiedAt

	clock.Advance(time.Minute)
	rec, changed, err = s.SetAnswer("q1", model.SingleChoice("a"))
	if err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if changed {
		t.Error("identical value must be a no-op")
	}
	if !rec.LastModifiedAt.Equal(first) || rec.Version != 1 {
		t.Errorf("identical value touched the record: %+v", rec)
	}

	rec, changed, _ = s.SetAnswer("q1", model.SingleChoice("b"))
	if !changed || rec.Version != 2 || !rec.LastModifiedAt.After(first) {
		t.Errorf("distinct value should bump version and timestamp: %+v", rec)
	}
}

func TestMultipleChoiceMembershipOnly(t *testing.T) {
	s, _ := newTestStore(t)

	if _, _, err := s.SetAnswer("q2", model.MultipleChoice("c3", "c1")); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	_, changed, err := s.SetAnswer("q2", model.MultipleChoice("c1", "c3", "c1"))
	if err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if changed {
		t.Error("same set in another order must be identical")
	}
}

func TestSetAnswerValidation(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		name    string
		qid     string
		value   model.AnswerValue
		wantErr error
	}{
		{"unknown question", "nope", model.Text("x"), ErrUnknownQuestion},
		{"kind mismatch", "q1", model.Text("a"), ErrKindMismatch},
		{"unknown choice", "q1", model.SingleChoice("z"), ErrInvalidValue},
		{"unknown multi choice", "q2", model.MultipleChoice("c1", "zz"), ErrInvalidValue},
		{"unsupported language", "q4", model.Code("rust", "fn main(){}"), ErrInvalidValue},
		{"missing language", "q4", model.Code("", "x"), ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.SetAnswer(tt.qid, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(s.AllAnswers()) != 0 {
		t.Fatal("rejected values must not create records")
	}
}

func TestClearKeepsRecord(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetAnswer("q3", model.Text("Newton"))
	s.SetAnswer("q3", model.Text(""))

	rec, ok := s.GetAnswer("q3")
	if !ok {
		t.Fatal("cleared answer must keep its record")
	}
	if !rec.Value.IsEmpty() {
		t.Errorf("expected empty value, got %+v", rec.Value)
	}
}

func TestCodingLanguagesKeptIndependently(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetAnswer("q4", model.Code("python", "print(1)"))
	s.SetAnswer("q4", model.Code("go", "package main"))

	rec, _ := s.GetAnswer("q4")
	if rec.Value.Language != "go" {
		t.Fatalf("expected active language go, got %s", rec.Value.Language)
	}
	if rec.Sources["python"] != "print(1)" {
		t.Errorf("switching language lost python draft: %v", rec.Sources)
	}
	if rec.Sources["go"] != "package main" {
		t.Errorf("missing go draft: %v", rec.Sources)
	}
}

func TestAllAnswersIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetAnswer("q2", model.MultipleChoice("c1"))
	s.SetAnswer("q4", model.Code("python", "print(1)"))

	snap := s.AllAnswers()
	snap["q2"].Value.Choices[0] = "c3"
	snap["q4"].Sources["python"] = "hacked"

	s.SetAnswer("q2", model.MultipleChoice("c2"))

	rec, _ := s.GetAnswer("q4")
	if rec.Sources["python"] != "print(1)" {
		t.Error("snapshot aliases store sources")
	}
	if snap["q2"].Value.Choices[0] != "c3" {
		t.Error("store mutation leaked into snapshot")
	}
}

func TestFlags(t *testing.T) {
	s, _ := newTestStore(t)

	on, err := s.ToggleFlag("q2")
	if err != nil || !on {
		t.Fatalf("expected flag on, got %v %v", on, err)
	}
	s.ToggleFlag("q1")
	if !s.IsFlagged("q2") {
		t.Error("expected q2 flagged")
	}

	flags := s.Flags()
	if len(flags) != 2 || flags[0] != "q1" || flags[1] != "q2" {
		t.Errorf("unexpected flags %v", flags)
	}

	on, _ = s.ToggleFlag("q2")
	if on || s.IsFlagged("q2") {
		t.Error("expected q2 unflagged")
	}

	if _, err := s.ToggleFlag("q9"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestFreeze(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetAnswer("q1", model.SingleChoice("a"))
	s.ToggleFlag("q3")

	answers, flags, err := s.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if answers["q1"].Value.Choice != "a" || len(flags) != 1 {
		t.Fatalf("unexpected frozen snapshot %+v %v", answers, flags)
	}

	if _, _, err := s.SetAnswer("q1", model.SingleChoice("b")); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if _, err := s.ToggleFlag("q1"); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if _, _, err := s.Freeze(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("second freeze should fail, got %v", err)
	}
	if answers["q1"].Value.Choice != "a" {
		t.Error("frozen snapshot changed")
	}
}

func TestRestoreVersionGuard(t *testing.T) {
	s, _ := newTestStore(t)

	savedAt := time.Date(2026, 3, 2, 7, 55, 0, 0, time.UTC)
	applied, err := s.Restore("q3", model.Text("draft"), 4, savedAt)
	if err != nil || !applied {
		t.Fatalf("expected restore into empty store, got %v %v", applied, err)
	}

	applied, _ = s.Restore("q3", model.Text("stale"), 3, savedAt.Add(time.Minute))
	if applied {
		t.Fatal("stale draft must be discarded")
	}
	rec, _ := s.GetAnswer("q3")
	if rec.Value.Text != "draft" || rec.Version != 4 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.LastModifiedAt.Equal(savedAt) {
		t.Errorf("restored record should keep the draft time, got %v", rec.LastModifiedAt)
	}

	// New edits continue from the restored version.
	rec, _, _ = s.SetAnswer("q3", model.Text("edited"))
	if rec.Version != 5 {
		t.Errorf("expected version 5, got %d", rec.Version)
	}
}

func TestRestoreCodingLanguages(t *testing.T) {
	s, _ := newTestStore(t)

	at := time.Date(2026, 3, 2, 7, 50, 0, 0, time.UTC)
	s.Restore("q4", model.Code("go", "package main"), 5, at)
	s.Restore("q4", model.Code("python", "print(1)"), 3, at.Add(-time.Minute))

	rec, _ := s.GetAnswer("q4")
	if rec.Value.Language != "go" || rec.Version != 5 {
		t.Errorf("expected newest language active, got %+v", rec)
	}
	if rec.Sources["python"] != "print(1)" || rec.Sources["go"] != "package main" {
		t.Errorf("expected both drafts restored, got %v", rec.Sources)
	}
	if !rec.LastModifiedAt.Equal(at) {
		t.Errorf("expected latest draft time, got %v", rec.LastModifiedAt)
	}
}
