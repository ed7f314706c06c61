package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates attempt states. Transitions only move forward.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusSetup      SessionStatus = "setup"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusSubmitting SessionStatus = "submitting"
	SessionStatusSubmitted  SessionStatus = "submitted"
	SessionStatusTerminated SessionStatus = "terminated"
)

var statusRank = map[SessionStatus]int{
	SessionStatusNotStarted: 0,
	SessionStatusSetup:      1,
	SessionStatusInProgress: 2,
	SessionStatusSubmitting: 3,
	SessionStatusSubmitted:  4,
	SessionStatusTerminated: 4,
}

// CanTransition reports whether s → next is a legal forward step.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.IsFinal() {
		return false
	}
	switch s {
	case SessionStatusSubmitting:
		return next == SessionStatusSubmitted || next == SessionStatusTerminated
	default:
		return statusRank[next] == statusRank[s]+1
	}
}

// IsFinal reports whether s is submitted or terminated.
func (s SessionStatus) IsFinal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusTerminated
}

// Consent records the monitoring decision collected during setup.
type Consent struct {
	MonitoringEnabled bool      `json:"monitoring_enabled"`
	Reason            string    `json:"reason,omitempty"`
	DecidedAt         time.Time `json:"decided_at"`
}

// ConsentRequest is the payload for recording the setup decision.
type ConsentRequest struct {
	MonitoringEnabled *bool  `json:"monitoring_enabled" binding:"required"`
	Reason            string `json:"reason" binding:"max=500"`
}

// TimerState is the render view of the countdown.
type TimerState struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	Running          bool `json:"running"`
}

// TerminationReason explains why an attempt ended in terminated.
type TerminationReason string

const (
	TerminationNone             TerminationReason = ""
	TerminationIntegrityPolicy  TerminationReason = "integrity_policy"
	TerminationSubmissionFailed TerminationReason = "submission_failed"
)

// SessionState is the render snapshot of one attempt.
type SessionState struct {
	AttemptID       uuid.UUID               `json:"attempt_id"`
	ExamID          uuid.UUID               `json:"exam_id"`
	Status          SessionStatus           `json:"status"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	DeadlineAt      *time.Time              `json:"deadline_at,omitempty"`
	Answers         map[string]AnswerRecord `json:"answers"`
	Flags           []string                `json:"flags"`
	Integrity       IntegrityState          `json:"integrity"`
	Timer           TimerState              `json:"timer"`
	CurrentQuestion string                  `json:"current_question,omitempty"`
	Consent         *Consent                `json:"consent,omitempty"`
	Termination     TerminationReason       `json:"termination,omitempty"`
}

// CreateAttemptRequest is the payload for opening a new attempt.
type CreateAttemptRequest struct {
	ExamID    string `json:"exam_id" binding:"required,uuid"`
	StudentID int    `json:"student_id" binding:"required,min=1"`
}
