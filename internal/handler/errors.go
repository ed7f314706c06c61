package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/answer"
	"github.com/stemsi/exstem-proctor/internal/integrity"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
)

var errorCodes = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrExamNotFound, http.StatusNotFound, response.ErrExamNotAvailable},
	{service.ErrInvalidExam, http.StatusUnprocessableEntity, response.ErrExamNotAvailable},
	{service.ErrAttemptUnknown, http.StatusNotFound, response.ErrNotFound},
	{service.ErrAttemptClosed, http.StatusConflict, response.ErrAttemptClosed},
	{service.ErrResultNotReady, http.StatusConflict, response.ErrResultNotReady},

	{session.ErrExamNotOpen, http.StatusForbidden, response.ErrExamNotOpen},
	{session.ErrExamClosed, http.StatusForbidden, response.ErrExamClosed},
	{session.ErrConsentRequired, http.StatusConflict, response.ErrConsentRequired},
	{session.ErrConsentReasonRequired, http.StatusBadRequest, response.ErrConsentReasonRequired},
	{session.ErrSubmitInFlight, http.StatusConflict, response.ErrSubmitInFlight},
	{session.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
	{session.ErrSubmissionFailed, http.StatusBadGateway, response.ErrSubmissionFailed},
	{session.ErrAnswersFrozen, http.StatusConflict, response.ErrAnswersFrozen},
	{session.ErrNotInProgress, http.StatusConflict, response.ErrNotInProgress},
	{session.ErrInvalidTransition, http.StatusConflict, response.ErrInvalidTransition},

	{answer.ErrUnknownQuestion, http.StatusNotFound, response.ErrUnknownQuestion},
	{answer.ErrKindMismatch, http.StatusBadRequest, response.ErrInvalidAnswer},
	{answer.ErrInvalidValue, http.StatusBadRequest, response.ErrInvalidAnswer},

	{integrity.ErrFullscreenUnavailable, http.StatusConflict, response.ErrFullscreenUnavailable},
}

// classify maps a domain error to its HTTP status and error code.
// Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

func fail(c *gin.Context, err error) {
	status, code := classify(err)
	response.Fail(c, status, code)
}
