package model

import "time"

// IntegrityEventType enumerates the monitored events.
type IntegrityEventType string

const (
	IntegrityEventTabSwitch      IntegrityEventType = "tab_switch"
	IntegrityEventFullscreenExit IntegrityEventType = "fullscreen_exit"
	IntegrityEventMonitorReset   IntegrityEventType = "monitor_reset"
)

// IntegrityEvent is one entry of the append-only integrity log.
type IntegrityEvent struct {
	Type      IntegrityEventType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// IsViolation reports whether the event counts against the student.
func (e IntegrityEvent) IsViolation() bool {
	return e.Type == IntegrityEventTabSwitch || e.Type == IntegrityEventFullscreenExit
}

// IntegrityState is the counter view exposed for rendering and grading.
type IntegrityState struct {
	TabSwitchCount      int  `json:"tab_switch_count"`
	FullscreenExitCount int  `json:"fullscreen_exit_count"`
	IsFullscreen        bool `json:"is_fullscreen"`
	ExitedFullscreen    bool `json:"exited_fullscreen"`
	Monitoring          bool `json:"monitoring"`
}

// Violations is the total violation count.
func (s IntegrityState) Violations() int {
	return s.TabSwitchCount + s.FullscreenExitCount
}

// IntegrityRecord is one integrity log entry queued for persistence.
// Timestamp is in Unix milliseconds.
type IntegrityRecord struct {
	AttemptID string             `json:"attempt_id"`
	ExamID    string             `json:"exam_id"`
	StudentID int                `json:"student_id"`
	Type      IntegrityEventType `json:"type"`
	Timestamp int64              `json:"timestamp"`
}
