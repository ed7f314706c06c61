package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
	Setup()
}

type navigateRequest struct {
	QID    string `json:"q_id" binding:"required,question_id"`
	Reason string `json:"reason,omitempty" binding:"max=5"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   navigateRequest
		field string
		msg   string
	}{
		{"valid", navigateRequest{QID: "bio-07"}, "", ""},
		{"missing id", navigateRequest{}, "q_id", "required"},
		{"id with space", navigateRequest{QID: "soal 7"}, "q_id", "question id"},
		{"id too long", navigateRequest{QID: strings.Repeat("q", 65)}, "q_id", "question id"},
		{"json name used for field", navigateRequest{QID: "q1", Reason: "terlalu panjang"}, "reason", "5 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Validate(&tt.req)
			if tt.field == "" {
				if fields != nil {
					t.Fatalf("expected valid, got %v", fields)
				}
				return
			}
			msg, ok := fields[tt.field]
			if !ok {
				t.Fatalf("expected error on %q, got %v", tt.field, fields)
			}
			if !strings.Contains(msg, tt.msg) {
				t.Errorf("message %q does not mention %q", msg, tt.msg)
			}
		})
	}
}

func TestBindReportsMalformedJSON(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"q_id":`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req navigateRequest
	fields := Bind(c, &req)
	if _, ok := fields["detail"]; !ok || len(fields) != 1 {
		t.Errorf("expected a single detail entry, got %v", fields)
	}
}
