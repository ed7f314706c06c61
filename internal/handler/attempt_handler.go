package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AttemptHandler handles the REST side of an exam attempt.
type AttemptHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// CreateAttempt godoc
// POST /api/v1/attempts
// Opens an attempt in setup.
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	var req model.CreateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	examID, err := uuid.Parse(req.ExamID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	st, err := h.attempts.Create(c.Request.Context(), examID, req.StudentID)
	if err != nil {
		h.logFailure(c, err, "Create attempt failed")
		fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"attempt": st})
}

// RecordConsent godoc
// POST /api/v1/attempts/:id/consent
// Records the monitoring decision. A reason is required when monitoring is declined.
func (h *AttemptHandler) RecordConsent(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	var req model.ConsentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	consent := model.Consent{MonitoringEnabled: *req.MonitoringEnabled, Reason: req.Reason}
	if err := h.attempts.Consent(c.Request.Context(), id, consent); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Persetujuan dicatat."})
}

// StartAttempt godoc
// POST /api/v1/attempts/:id/start
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	st, err := h.attempts.Start(c.Request.Context(), id)
	if err != nil {
		h.logFailure(c, err, "Start attempt failed")
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": st})
}

// GetState godoc
// GET /api/v1/attempts/:id/state
// Returns the render snapshot, used by the client after a reload.
func (h *AttemptHandler) GetState(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	st, err := h.attempts.State(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": st})
}

// GetPaper godoc
// GET /api/v1/attempts/:id/paper
// Returns the questions without grading data.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	paper, err := h.attempts.Paper(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": paper})
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	st, err := h.attempts.Submit(c.Request.Context(), id)
	if err != nil {
		h.logFailure(c, err, "Submit attempt failed")
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": st})
}

// GetResult godoc
// GET /api/v1/attempts/:id/result
func (h *AttemptHandler) GetResult(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	r, err := h.attempts.Result(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"result":     r,
		"percentage": r.Percentage(),
		"complete":   r.Complete(),
	})
}

func (h *AttemptHandler) logFailure(c *gin.Context, err error, msg string) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("attempt_id", c.Param("id")).
			Msg(msg)
	}
}

// attemptID parses the :id path param, writing the error response on failure.
func attemptID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
