package session

import (
	"errors"

	"github.com/stemsi/exstem-proctor/internal/answer"
)

var (
	// ErrInvalidTransition is returned for any backward or skipped status change.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrNotInProgress is returned for answer commands outside in_progress.
	ErrNotInProgress = errors.New("session is not in progress")
	// ErrAnswersFrozen is returned for answer commands once submission began.
	ErrAnswersFrozen = answer.ErrFrozen
	// ErrConsentRequired is returned when starting without a consent decision.
	ErrConsentRequired = errors.New("consent decision required")
	// ErrConsentReasonRequired is returned when monitoring is declined without a reason.
	ErrConsentReasonRequired = errors.New("reason required when monitoring is disabled")
	// ErrExamNotOpen is returned when starting before the exam window.
	ErrExamNotOpen = errors.New("exam window has not opened")
	// ErrExamClosed is returned when starting after the exam window.
	ErrExamClosed = errors.New("exam window has closed")
	// ErrSubmitInFlight is returned when a submission is already running.
	ErrSubmitInFlight = errors.New("submission already in progress")
	// ErrAlreadySubmitted is returned when the attempt has already ended.
	ErrAlreadySubmitted = errors.New("attempt already ended")
	// ErrSubmissionFailed is returned when every delivery attempt failed.
	ErrSubmissionFailed = errors.New("submission failed")
)
