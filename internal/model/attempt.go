package model

import (
	"time"

	"github.com/google/uuid"
)

// Attempt is the persisted record of one exam attempt.
type Attempt struct {
	ID                uuid.UUID         `json:"id"`
	ExamID            uuid.UUID         `json:"exam_id"`
	StudentID         int               `json:"student_id"`
	Status            SessionStatus     `json:"status"`
	MonitoringEnabled *bool             `json:"monitoring_enabled,omitempty"`
	ConsentReason     string            `json:"consent_reason,omitempty"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	DeadlineAt        *time.Time        `json:"deadline_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	Termination       TerminationReason `json:"termination,omitempty"`
	TotalScore        *float64          `json:"total_score,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Consent rebuilds the recorded decision, nil if none was recorded.
func (a *Attempt) Consent() *Consent {
	if a.MonitoringEnabled == nil {
		return nil
	}
	c := Consent{MonitoringEnabled: *a.MonitoringEnabled, Reason: a.ConsentReason}
	if a.StartedAt != nil {
		c.DecidedAt = *a.StartedAt
	}
	return &c
}
