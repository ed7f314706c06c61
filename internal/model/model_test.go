package model

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionStatusNotStarted, SessionStatusSetup, true},
		{SessionStatusSetup, SessionStatusInProgress, true},
		{SessionStatusInProgress, SessionStatusSubmitting, true},
		{SessionStatusSubmitting, SessionStatusSubmitted, true},
		{SessionStatusSubmitting, SessionStatusTerminated, true},
		{SessionStatusNotStarted, SessionStatusInProgress, false},
		{SessionStatusInProgress, SessionStatusSetup, false},
		{SessionStatusInProgress, SessionStatusSubmitted, false},
		{SessionStatusSubmitted, SessionStatusTerminated, false},
		{SessionStatusTerminated, SessionStatusSubmitted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestAnswerValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b AnswerValue
		want bool
	}{
		{"choice sets ignore order", MultipleChoice("B", "A"), MultipleChoice("A", "B", "A"), true},
		{"different sets", MultipleChoice("A"), MultipleChoice("A", "C"), false},
		{"same text", Text("fotosintesis"), Text("fotosintesis"), true},
		{"different kinds", Text("A"), SingleChoice("A"), false},
		{"same code other language", Code("go", "x"), Code("python", "x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerRecordCloneIsIndependent(t *testing.T) {
	rec := AnswerRecord{
		QuestionID: "q1",
		Value:      MultipleChoice("A", "B"),
		Sources:    map[string]string{"go": "package main"},
	}
	c := rec.Clone()
	c.Value.Choices[0] = "Z"
	c.Sources["go"] = "changed"

	if rec.Value.Choices[0] != "A" || rec.Sources["go"] != "package main" {
		t.Errorf("clone shares memory with original: %+v", rec)
	}
}

func validExam() *ExamDefinition {
	return &ExamDefinition{
		ID:              uuid.New(),
		DurationSeconds: 1800,
		Questions: []QuestionSpec{
			{ID: "q1", Type: QuestionTypeSingleChoice, Points: 2,
				Choices: []Choice{{ID: "A"}, {ID: "B"}}, CorrectChoices: []string{"A"}},
			{ID: "q2", Type: QuestionTypeShortAnswer, Points: 3, AcceptedAnswers: []string{"mitokondria"}},
			{ID: "q3", Type: QuestionTypeCoding, Points: 10, Languages: []string{"go", "python"},
				TestCases: []TestCase{{Input: "1", ExpectedOutput: "1"}, {Input: "2", ExpectedOutput: "4", Hidden: true}}},
		},
	}
}

func TestExamValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *ExamDefinition)
		wantErr string
	}{
		{"valid", func(d *ExamDefinition) {}, ""},
		{"zero duration", func(d *ExamDefinition) { d.DurationSeconds = 0 }, "duration"},
		{"no questions", func(d *ExamDefinition) { d.Questions = nil }, "no questions"},
		{"duplicate id", func(d *ExamDefinition) { d.Questions[1].ID = "q1" }, "duplicate"},
		{"id with spaces", func(d *ExamDefinition) { d.Questions[1].ID = "soal 2" }, "visible ASCII"},
		{"correct choice not offered", func(d *ExamDefinition) { d.Questions[0].CorrectChoices = []string{"E"} }, "not a choice"},
		{"coding without languages", func(d *ExamDefinition) { d.Questions[2].Languages = nil }, "no languages"},
		{"negative points", func(d *ExamDefinition) { d.Questions[1].Points = -1 }, "negative"},
		{"inverted window", func(d *ExamDefinition) {
			start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
			end := start.Add(-time.Hour)
			d.StartAt, d.EndAt = &start, &end
		}, "end_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validExam()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDeadlineFor(t *testing.T) {
	d := validExam()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	if got := d.DeadlineFor(start); !got.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("deadline = %v", got)
	}

	end := start.Add(10 * time.Minute)
	d.EndAt = &end
	if got := d.DeadlineFor(start); !got.Equal(end) {
		t.Errorf("deadline should be capped at the window end, got %v", got)
	}
}

func TestForStudentHidesGradingData(t *testing.T) {
	d := validExam()
	paper := d.ForStudent()

	if paper.Questions[0].CorrectChoices != nil || paper.Questions[1].AcceptedAnswers != nil {
		t.Error("grading data leaked")
	}
	if len(paper.Questions[2].TestCases) != 1 || paper.Questions[2].TestCases[0].Hidden {
		t.Errorf("hidden test cases leaked: %+v", paper.Questions[2].TestCases)
	}
	if len(d.Questions[0].CorrectChoices) != 1 || len(d.Questions[2].TestCases) != 2 {
		t.Error("original definition was mutated")
	}
}
