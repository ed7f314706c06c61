package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const (
	// maxMessageBytes leaves room for coding answers.
	maxMessageBytes = 1 << 20
	sendBuffer      = 64
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the live attempt stream.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream
// Carries answers, flags, navigation and browser integrity signals from the
// client, and pushes timer, status and integrity updates back.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	// Resolve before upgrading so unknown attempts get a plain HTTP error.
	live, err := h.attempts.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	wsLog := h.log.With().
		Str("attempt_id", id.String()).
		Int("student_id", live.StudentID).
		Logger()

	cl := newStreamClient(conn)
	go cl.writePump(wsLog)
	defer cl.close()

	unsubscribe := live.Subscribe(func(ev service.Event) { cl.send(ev) })
	defer unsubscribe()

	st := live.Controller.State()
	cl.send(service.Event{Type: service.EventStatus, Status: st.Status, Termination: st.Termination})

	wsLog.Info().Msg("Student connected")

	ctx := c.Request.Context()
	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if fields := validator.Validate(&msg); fields != nil {
			cl.sendError(response.ErrValidation)
			continue
		}
		h.dispatch(ctx, wsLog, live, cl, &msg)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, log zerolog.Logger, live *service.LiveAttempt, cl *streamClient, msg *ws.RequestEnvelope) {
	ctrl := live.Controller

	switch msg.Action {
	case ws.ActionAnswer:
		if msg.QID == "" || msg.Answer == nil {
			cl.sendError(response.ErrValidation)
			return
		}
		rec, err := ctrl.SetAnswer(ctx, msg.QID, *msg.Answer)
		if err != nil {
			cl.sendErr(err)
			return
		}
		cl.send(ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID, Version: rec.Version})

	case ws.ActionFlag:
		if msg.QID == "" {
			cl.sendError(response.ErrValidation)
			return
		}
		flagged, err := ctrl.ToggleFlag(msg.QID)
		if err != nil {
			cl.sendErr(err)
			return
		}
		cl.send(ws.FlaggedResponse{Event: ws.EventFlagged, QID: msg.QID, Flagged: flagged})

	case ws.ActionNavigate:
		if msg.QID == "" {
			cl.sendError(response.ErrValidation)
			return
		}
		if err := ctrl.Navigate(ctx, msg.QID); err != nil {
			cl.sendErr(err)
			return
		}
		cl.send(ws.NavigatedResponse{Event: ws.EventNavigated, QID: msg.QID})

	case ws.ActionVisibility:
		switch msg.State {
		case ws.VisibilityHidden:
			live.Source.Hidden()
		case ws.VisibilityVisible:
			live.Source.Visible()
		default:
			cl.sendError(response.ErrValidation)
		}

	case ws.ActionFullscreen:
		if msg.Active == nil {
			cl.sendError(response.ErrValidation)
			return
		}
		live.Source.Fullscreen(*msg.Active)

	case ws.ActionSubmit:
		// Delivery may retry for several seconds; keep reading meanwhile.
		// The outcome reaches the client as a status event.
		go func() {
			if err := ctrl.Submit(ctx); err != nil {
				log.Warn().Err(err).Msg("Submit from stream failed")
				cl.sendErr(err)
			}
		}()

	case ws.ActionPing:
		cl.send(ws.PongResponse{Event: ws.EventPong})
	}
}

// streamClient serialises writes to one connection. Controller
// notifications arrive from timer and submission goroutines.
type streamClient struct {
	conn *websocket.Conn
	out  chan interface{}
	done chan struct{}
	once sync.Once
}

func newStreamClient(conn *websocket.Conn) *streamClient {
	return &streamClient{
		conn: conn,
		out:  make(chan interface{}, sendBuffer),
		done: make(chan struct{}),
	}
}

// send queues v, dropping it if the client is too slow to keep up.
func (cl *streamClient) send(v interface{}) {
	select {
	case <-cl.done:
	case cl.out <- v:
	default:
	}
}

func (cl *streamClient) sendError(code response.ErrCode) {
	cl.send(ws.NewError(string(code), response.GetMessage(code)))
}

func (cl *streamClient) sendErr(err error) {
	_, code := classify(err)
	cl.sendError(code)
}

func (cl *streamClient) writePump(log zerolog.Logger) {
	for {
		select {
		case <-cl.done:
			return
		case v := <-cl.out:
			if err := ws.WriteTyped(cl.conn, v); err != nil {
				log.Debug().Err(err).Msg("Stream write failed")
				cl.close()
				// Unblock the reader.
				cl.conn.Close()
				return
			}
		}
	}
}

func (cl *streamClient) close() {
	cl.once.Do(func() { close(cl.done) })
}
