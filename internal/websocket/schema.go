package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionFlag       Action = "flag"
	ActionNavigate   Action = "navigate"
	ActionVisibility Action = "visibility"
	ActionFullscreen Action = "fullscreen"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// Visibility states reported by the browser.
const (
	VisibilityHidden  = "hidden"
	VisibilityVisible = "visible"
)

// RequestEnvelope carries every client action. QID targets answer, flag and
// navigate; Active is the fullscreen flag. Fields an action does not use are
// left empty.
type RequestEnvelope struct {
	Action Action             `json:"action" binding:"required,oneof=answer flag navigate visibility fullscreen submit ping"`
	QID    string             `json:"q_id" binding:"omitempty,question_id"`
	Answer *model.AnswerValue `json:"answer"`
	State  string             `json:"state" binding:"omitempty,oneof=hidden visible"`
	Active *bool              `json:"active"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved             Event = "saved"
	EventFlagged           Event = "flagged"
	EventNavigated         Event = "navigated"
	EventTick              Event = "tick"
	EventStatus            Event = "status"
	EventIntegrity         Event = "integrity"
	EventFullscreenRequest Event = "fullscreen_request"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

type SavedResponse struct {
	Event   Event  `json:"event"`
	QID     string `json:"q_id"`
	Version uint64 `json:"version"`
}

type FlaggedResponse struct {
	Event   Event  `json:"event"`
	QID     string `json:"q_id"`
	Flagged bool   `json:"flagged"`
}

type NavigatedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
