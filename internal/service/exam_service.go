package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound   = errors.New("exam not found")
	ErrInvalidExam    = errors.New("exam definition is invalid")
	ErrAttemptUnknown = errors.New("attempt not found")
	ErrResultNotReady = errors.New("result not available yet")
)

// ExamStore is the read side of the exam repository.
type ExamStore interface {
	GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	ListOpenIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ExamService resolves exam definitions, caching them in Redis.
type ExamService struct {
	repo ExamStore
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewExamService creates a new ExamService. rdb may be nil to disable caching.
func NewExamService(repo ExamStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns the validated definition of examID.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	if def, ok := s.cached(ctx, examID); ok {
		return def, nil
	}

	def, err := s.repo.GetDefinition(ctx, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExam, err)
	}

	if err := s.store(ctx, def); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache exam")
	}
	return def, nil
}

// PrewarmAllCaches loads all open exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ids, err := s.repo.ListOpenIDs(ctx)
	if err != nil {
		return fmt.Errorf("list open exams: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No open exams to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		def, err := s.repo.GetDefinition(ctx, id)
		if err == nil {
			err = def.Validate()
		}
		if err == nil {
			err = s.store(ctx, def)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

func (s *ExamService) cached(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, bool) {
	if s.rdb == nil {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamDefinitionKey(examID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("Exam cache read failed")
		}
		return nil, false
	}
	var def model.ExamDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Discarding corrupt exam cache")
		return nil, false
	}
	return &def, true
}

func (s *ExamService) store(ctx context.Context, def *model.ExamDefinition) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(def.ID.String()), data, 0).Err()
}
