package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Fail(c, http.StatusConflict, ErrSubmitInFlight) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"client id kept", "lab-3-pc-12", true},
		{"missing id generated", "", false},
		{"oversized id replaced", strings.Repeat("x", 65), false},
		{"id with spaces replaced", "a b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.keep && got != tt.header {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.header)
			}
			if !tt.keep && (got == "" || got == tt.header) {
				t.Errorf("expected a generated id, got %q", got)
			}

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Metadata.RequestID != got {
				t.Errorf("metadata request_id = %q, header %q", body.Metadata.RequestID, got)
			}
			if body.Error == nil || body.Error.Code != ErrSubmitInFlight || body.Error.Message != GetMessage(ErrSubmitInFlight) {
				t.Errorf("unexpected error body %+v", body.Error)
			}
		})
	}
}

func TestFailWithFields(t *testing.T) {
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"student_id": "student_id is a required field"})
	})

	before := time.Now().UnixMilli()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusBadRequest || body.Error == nil || body.Error.Code != ErrValidation {
		t.Fatalf("unexpected response %d %+v", w.Code, body.Error)
	}
	if body.Error.Fields["student_id"] == "" {
		t.Errorf("field errors missing: %v", body.Error.Fields)
	}
	if body.Data != nil {
		t.Errorf("error envelope carries data: %v", body.Data)
	}
	if body.Metadata.RequestID == "" {
		t.Error("request id must be filled without the middleware")
	}
	if body.Metadata.ServerTime < before {
		t.Errorf("server_time_ms = %d, sent before %d", body.Metadata.ServerTime, before)
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrValidation, ErrInvalidID, ErrUnknownQuestion, ErrInvalidAnswer, ErrNotFound,
		ErrExamNotAvailable, ErrExamNotOpen, ErrExamClosed, ErrConsentRequired,
		ErrConsentReasonRequired, ErrAnswersFrozen, ErrSubmitInFlight, ErrAlreadySubmitted,
		ErrSubmissionFailed, ErrAttemptClosed, ErrResultNotReady, ErrRateLimitExceeded, ErrInternal,
	}
	fallback := GetMessage(ErrCode("UNKNOWN_CODE"))
	for _, code := range codes {
		if msg := GetMessage(code); msg == "" || msg == fallback {
			t.Errorf("%s has no dedicated message", code)
		}
	}
}
