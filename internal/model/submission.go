package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitTrigger records what initiated in_progress → submitting.
type SubmitTrigger string

const (
	SubmitTriggerManual          SubmitTrigger = "manual"
	SubmitTriggerTimeout         SubmitTrigger = "timeout"
	SubmitTriggerIntegrityPolicy SubmitTrigger = "integrity_policy"
	// SubmitTriggerResumed marks a delivery rebuilt from drafts after the
	// process died while submitting.
	SubmitTriggerResumed SubmitTrigger = "resumed"
)

// Timings captures the attempt time line.
type Timings struct {
	StartedAt   time.Time `json:"started_at"`
	DeadlineAt  time.Time `json:"deadline_at"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmissionPayload is the frozen content handed to the submission transport.
// It is built once and never mutated afterwards.
type SubmissionPayload struct {
	AttemptID    uuid.UUID               `json:"attempt_id"`
	ExamID       uuid.UUID               `json:"exam_id"`
	StudentID    int                     `json:"student_id"`
	Answers      map[string]AnswerRecord `json:"answers"`
	Flags        []string                `json:"flags"`
	Integrity    IntegrityState          `json:"integrity"`
	IntegrityLog []IntegrityEvent        `json:"integrity_log"`
	Cheated      bool                    `json:"cheated"`
	Consent      Consent                 `json:"consent"`
	Trigger      SubmitTrigger           `json:"trigger"`
	Timings      Timings                 `json:"timings"`
	// FlaggedForReview is set when the attempt is ended by policy.
	FlaggedForReview bool `json:"flagged_for_review"`
}

// Clone deep-copies the payload.
func (p *SubmissionPayload) Clone() *SubmissionPayload {
	c := *p
	c.Answers = make(map[string]AnswerRecord, len(p.Answers))
	for k, v := range p.Answers {
		c.Answers[k] = v.Clone()
	}
	c.Flags = append([]string(nil), p.Flags...)
	c.IntegrityLog = append([]IntegrityEvent(nil), p.IntegrityLog...)
	return &c
}
