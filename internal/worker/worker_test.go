package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

var testOpts = BatchOptions{Size: 1, Timeout: 10 * time.Millisecond, Poll: time.Second}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// runWorker starts fn and returns a stop function that waits for it to exit.
func runWorker(t *testing.T, fn func(context.Context)) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return stop
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakeExams struct {
	defs map[uuid.UUID]*model.ExamDefinition
}

func (f fakeExams) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	if d, ok := f.defs[id]; ok {
		return d, nil
	}
	return nil, service.ErrExamNotFound
}

type fakeSubmissionStore struct {
	mu       sync.Mutex
	failBulk bool
	failFor  map[uuid.UUID]bool
	saved    []repository.ScoredSubmission
}

func (f *fakeSubmissionStore) SaveBatch(ctx context.Context, batch []repository.ScoredSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBulk && len(batch) > 1 {
		return errors.New("bulk failed")
	}
	for _, s := range batch {
		if f.failFor[s.Payload.AttemptID] {
			return errors.New("row failed")
		}
	}
	f.saved = append(f.saved, batch...)
	return nil
}

func (f *fakeSubmissionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func examFixture() *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:              uuid.New(),
		DurationSeconds: 60,
		Questions: []model.QuestionSpec{
			{ID: "q1", Type: model.QuestionTypeSingleChoice, Points: 3,
				Choices: []model.Choice{{ID: "A"}, {ID: "B"}}, CorrectChoices: []string{"A"}},
			{ID: "q2", Type: model.QuestionTypeEssay, Points: 5},
		},
	}
}

func pushPayload(t *testing.T, rdb *redis.Client, p *model.SubmissionPayload) {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.RPush(context.Background(), config.WorkerKey.PersistSubmissionsQueue, raw).Err(); err != nil {
		t.Fatal(err)
	}
}

func TestSubmissionWorkerScoresAndSaves(t *testing.T) {
	_, rdb := newRedis(t)
	def := examFixture()
	store := &fakeSubmissionStore{}
	w := NewSubmissionWorker(rdb, fakeExams{defs: map[uuid.UUID]*model.ExamDefinition{def.ID: def}}, store, testOpts, zerolog.Nop())

	pushPayload(t, rdb, &model.SubmissionPayload{
		AttemptID: uuid.New(),
		ExamID:    def.ID,
		Answers: map[string]model.AnswerRecord{
			"q1": {QuestionID: "q1", Value: model.SingleChoice("A")},
			"q2": {QuestionID: "q2", Value: model.Text("sel adalah unit terkecil")},
		},
		Trigger: model.SubmitTriggerManual,
	})

	stop := runWorker(t, w.Start)
	waitFor(t, func() bool { return store.count() == 1 })
	stop()

	r := store.saved[0].Result
	if r.TotalScore != 3 || r.PendingCount != 1 || r.MaxScore != 8 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestSubmissionWorkerParksUnknownExam(t *testing.T) {
	mr, rdb := newRedis(t)
	store := &fakeSubmissionStore{}
	w := NewSubmissionWorker(rdb, fakeExams{}, store, testOpts, zerolog.Nop())

	attemptID := uuid.New()
	pushPayload(t, rdb, &model.SubmissionPayload{
		AttemptID:    attemptID,
		ExamID:       uuid.New(),
		Answers:      map[string]model.AnswerRecord{"q1": {QuestionID: "q1", Value: model.SingleChoice("A")}},
		IntegrityLog: []model.IntegrityEvent{{Type: model.IntegrityEventTabSwitch, Timestamp: time.Now()}},
	})

	stop := runWorker(t, w.Start)
	waitFor(t, func() bool {
		list, _ := mr.List(config.WorkerKey.FailedSubmissionsQueue)
		return len(list) == 1
	})
	stop()

	if store.count() != 0 {
		t.Error("unscorable submission must not be saved")
	}

	list, _ := mr.List(config.WorkerKey.FailedSubmissionsQueue)
	var parked model.SubmissionPayload
	if err := json.Unmarshal([]byte(list[0]), &parked); err != nil {
		t.Fatal(err)
	}
	if parked.AttemptID != attemptID || parked.Answers["q1"].Value.Choice != "A" {
		t.Errorf("parked payload lost data: %+v", parked)
	}
	if len(parked.IntegrityLog) != 0 {
		t.Error("integrity log was already queued and must not be parked again")
	}
}

func TestSubmissionWorkerFallbackAndRequeue(t *testing.T) {
	_, rdb := newRedis(t)
	def := examFixture()
	good, bad := uuid.New(), uuid.New()
	store := &fakeSubmissionStore{failBulk: true, failFor: map[uuid.UUID]bool{bad: true}}
	w := NewSubmissionWorker(rdb, fakeExams{defs: map[uuid.UUID]*model.ExamDefinition{def.ID: def}}, store, testOpts, zerolog.Nop())

	batch := []queued[*model.SubmissionPayload]{
		{raw: `{"attempt_id":"` + good.String() + `"}`, item: &model.SubmissionPayload{AttemptID: good, ExamID: def.ID}},
		{raw: `{"attempt_id":"` + bad.String() + `"}`, item: &model.SubmissionPayload{AttemptID: bad, ExamID: def.ID}},
	}
	retry := w.flushSafe(context.Background(), batch)

	if store.count() != 1 || store.saved[0].Payload.AttemptID != good {
		t.Errorf("expected only the good row saved, got %d", store.count())
	}
	if len(retry) != 1 || retry[0].item.AttemptID != bad {
		t.Fatalf("expected the bad row to be retried, got %+v", retry)
	}
}

func TestSubmissionWorkerFlushesOnShutdown(t *testing.T) {
	_, rdb := newRedis(t)
	def := examFixture()
	store := &fakeSubmissionStore{}
	opts := BatchOptions{Size: 10, Timeout: time.Hour, Poll: time.Second}
	w := NewSubmissionWorker(rdb, fakeExams{defs: map[uuid.UUID]*model.ExamDefinition{def.ID: def}}, store, opts, zerolog.Nop())

	pushPayload(t, rdb, &model.SubmissionPayload{AttemptID: uuid.New(), ExamID: def.ID})

	stop := runWorker(t, w.Start)
	waitFor(t, func() bool {
		n, _ := rdb.LLen(context.Background(), config.WorkerKey.PersistSubmissionsQueue).Result()
		return n == 0
	})
	stop()

	if store.count() != 1 {
		t.Errorf("expected buffered submission flushed on shutdown, saved %d", store.count())
	}
}

type fakeIntegrityStore struct {
	mu       sync.Mutex
	copyErr  error
	insertFn func(model.IntegrityRecord) error
	stored   []model.IntegrityRecord
}

func (f *fakeIntegrityStore) CopyEvents(ctx context.Context, recs []model.IntegrityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return f.copyErr
	}
	f.stored = append(f.stored, recs...)
	return nil
}

func (f *fakeIntegrityStore) InsertEvent(ctx context.Context, rec model.IntegrityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertFn != nil {
		if err := f.insertFn(rec); err != nil {
			return err
		}
	}
	f.stored = append(f.stored, rec)
	return nil
}

func (f *fakeIntegrityStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func TestIntegrityWorkerCopies(t *testing.T) {
	_, rdb := newRedis(t)
	store := &fakeIntegrityStore{}
	w := NewIntegrityWorker(rdb, store, testOpts, zerolog.Nop())

	rec, _ := json.Marshal(model.IntegrityRecord{
		AttemptID: uuid.NewString(),
		ExamID:    uuid.NewString(),
		StudentID: 4,
		Type:      model.IntegrityEventTabSwitch,
		Timestamp: time.Now().UnixMilli(),
	})
	ctx := context.Background()
	rdb.RPush(ctx, config.WorkerKey.PersistIntegrityQueue, rec, "{not json")

	stop := runWorker(t, w.Start)
	waitFor(t, func() bool { return store.count() == 1 })
	stop()

	if store.stored[0].StudentID != 4 {
		t.Errorf("unexpected record %+v", store.stored[0])
	}
}

func TestIntegrityWorkerFallback(t *testing.T) {
	_, rdb := newRedis(t)
	store := &fakeIntegrityStore{
		copyErr: errors.New("copy failed"),
		insertFn: func(rec model.IntegrityRecord) error {
			switch rec.StudentID {
			case 2:
				return repository.ErrMalformedRecord
			case 3:
				return errors.New("connection reset")
			}
			return nil
		},
	}
	w := NewIntegrityWorker(rdb, store, testOpts, zerolog.Nop())

	batch := []queued[model.IntegrityRecord]{
		{raw: "1", item: model.IntegrityRecord{StudentID: 1}},
		{raw: "2", item: model.IntegrityRecord{StudentID: 2}},
		{raw: "3", item: model.IntegrityRecord{StudentID: 3}},
	}
	retry := w.flushSafe(context.Background(), batch)

	if store.count() != 1 {
		t.Errorf("expected one row inserted, got %d", store.count())
	}
	if len(retry) != 1 || retry[0].item.StudentID != 3 {
		t.Errorf("expected only the transient failure retried, got %+v", retry)
	}
}

func TestRequeuePushesRawMessages(t *testing.T) {
	mr, rdb := newRedis(t)
	l := &batchLoop[int]{rdb: rdb, queue: "q", opts: testOpts.withDefaults(), log: zerolog.Nop()}

	if l.requeue(context.Background(), nil) {
		t.Error("nothing to requeue")
	}
	if !l.requeue(context.Background(), []queued[int]{{raw: "a"}, {raw: "b"}}) {
		t.Fatal("expected requeue")
	}
	list, err := mr.List("q")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Errorf("unexpected queue %v", list)
	}
}
