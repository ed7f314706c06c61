package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/answer"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type stubExams struct {
	def *model.ExamDefinition
}

func (s stubExams) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	if id != s.def.ID {
		return nil, repository.ErrNotFound
	}
	return s.def, nil
}

func (s stubExams) ListOpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	return []uuid.UUID{s.def.ID}, nil
}

type memAttempts struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Attempt
}

func (m *memAttempts) Create(ctx context.Context, a *model.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = *a
	return nil
}

func (m *memAttempts) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memAttempts) MarkStarted(ctx context.Context, id uuid.UUID, c model.Consent, startedAt, deadlineAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.rows[id]
	a.Status = model.SessionStatusInProgress
	a.MonitoringEnabled = &c.MonitoringEnabled
	a.ConsentReason = c.Reason
	a.StartedAt, a.DeadlineAt = &startedAt, &deadlineAt
	m.rows[id] = a
	return nil
}

func (m *memAttempts) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SessionStatus, termination model.TerminationReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.rows[id]
	a.Status = status
	a.Termination = termination
	m.rows[id] = a
	return nil
}

func (m *memAttempts) ListSubmitting(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *memAttempts) LoadSubmission(ctx context.Context, id uuid.UUID) (*repository.StoredSubmission, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *model.ExamDefinition) {
	t.Helper()
	def := &model.ExamDefinition{
		ID:              uuid.New(),
		Title:           "Ujian Biologi",
		DurationSeconds: 300,
		Questions: []model.QuestionSpec{
			{ID: "q1", Type: model.QuestionTypeSingleChoice, Points: 4,
				Choices: []model.Choice{{ID: "A"}, {ID: "B"}, {ID: "C"}}, CorrectChoices: []string{"C"}},
		},
	}

	svc := service.NewAttemptService(service.AttemptDeps{
		Exams:    service.NewExamService(stubExams{def: def}, nil, zerolog.Nop()),
		Attempts: &memAttempts{rows: make(map[uuid.UUID]model.Attempt)},
		Submitter: session.SubmitterFunc(func(ctx context.Context, p *model.SubmissionPayload) error {
			return nil
		}),
		Clock:    clockwork.NewFakeClock(),
		Defaults: session.Options{SubmitBackoff: time.Millisecond},
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(svc.Shutdown)

	h := NewAttemptHandler(svc, zerolog.Nop())
	r := gin.New()
	r.POST("/attempts", h.CreateAttempt)
	r.POST("/attempts/:id/consent", h.RecordConsent)
	r.POST("/attempts/:id/start", h.StartAttempt)
	r.GET("/attempts/:id/state", h.GetState)
	r.GET("/attempts/:id/paper", h.GetPaper)
	r.POST("/attempts/:id/submit", h.SubmitAttempt)
	r.GET("/attempts/:id/result", h.GetResult)
	return r, def
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func errCode(env envelope) response.ErrCode {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestAttemptRoutes(t *testing.T) {
	r, def := newTestRouter(t)

	code, env := do(t, r, http.MethodPost, "/attempts", gin.H{"exam_id": "bukan-uuid"})
	if code != http.StatusBadRequest || errCode(env) != response.ErrValidation {
		t.Fatalf("invalid create: %d %s", code, errCode(env))
	}
	if _, ok := env.Error.Fields["student_id"]; !ok {
		t.Errorf("expected student_id field error, got %v", env.Error.Fields)
	}

	code, env = do(t, r, http.MethodPost, "/attempts", gin.H{"exam_id": uuid.NewString(), "student_id": 3})
	if code != http.StatusNotFound || errCode(env) != response.ErrExamNotAvailable {
		t.Fatalf("unknown exam: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodPost, "/attempts", gin.H{"exam_id": def.ID.String(), "student_id": 3})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, errCode(env))
	}
	var created struct {
		Attempt model.SessionState `json:"attempt"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	base := fmt.Sprintf("/attempts/%s", created.Attempt.AttemptID)

	code, env = do(t, r, http.MethodPost, base+"/start", nil)
	if code != http.StatusConflict || errCode(env) != response.ErrConsentRequired {
		t.Fatalf("start without consent: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodPost, base+"/consent", gin.H{"monitoring_enabled": false})
	if code != http.StatusBadRequest || errCode(env) != response.ErrConsentReasonRequired {
		t.Fatalf("declined without reason: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodPost, base+"/consent", gin.H{"monitoring_enabled": false, "reason": "perangkat tidak mendukung"})
	if code != http.StatusOK {
		t.Fatalf("consent: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodPost, base+"/start", nil)
	if code != http.StatusOK {
		t.Fatalf("start: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodGet, base+"/paper", nil)
	if code != http.StatusOK {
		t.Fatalf("paper: %d %s", code, errCode(env))
	}
	if bytes.Contains(env.Data, []byte("correct_choices")) {
		t.Errorf("paper leaks grading data: %s", env.Data)
	}

	code, env = do(t, r, http.MethodGet, base+"/result", nil)
	if code != http.StatusConflict || errCode(env) != response.ErrResultNotReady {
		t.Fatalf("early result: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodPost, base+"/submit", nil)
	if code != http.StatusOK {
		t.Fatalf("submit: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodPost, base+"/submit", nil)
	if code != http.StatusConflict || errCode(env) != response.ErrAlreadySubmitted {
		t.Fatalf("second submit: %d %s", code, errCode(env))
	}

	code, env = do(t, r, http.MethodGet, base+"/result", nil)
	if code != http.StatusOK {
		t.Fatalf("result: %d %s", code, errCode(env))
	}
	var result struct {
		Percentage float64 `json:"percentage"`
		Complete   bool    `json:"complete"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Percentage != 0 || !result.Complete {
		t.Errorf("unanswered exam should score 0 and be complete, got %+v", result)
	}
}

func TestAttemptRoutesRejectBadIDs(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   response.ErrCode
	}{
		{"malformed id", "/attempts/123/state", http.StatusBadRequest, response.ErrInvalidID},
		{"unknown attempt", "/attempts/" + uuid.NewString() + "/state", http.StatusNotFound, response.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, r, http.MethodGet, tt.path, nil)
			if code != tt.status || errCode(env) != tt.code {
				t.Errorf("got %d %s, want %d %s", code, errCode(env), tt.status, tt.code)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"frozen answers", session.ErrAnswersFrozen, http.StatusConflict, response.ErrAnswersFrozen},
		{"wrapped unknown question", fmt.Errorf("set q9: %w", answer.ErrUnknownQuestion), http.StatusNotFound, response.ErrUnknownQuestion},
		{"invalid exam", fmt.Errorf("%w: no questions", service.ErrInvalidExam), http.StatusUnprocessableEntity, response.ErrExamNotAvailable},
		{"delivery failure", session.ErrSubmissionFailed, http.StatusBadGateway, response.ErrSubmissionFailed},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}
