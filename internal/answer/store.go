// Package answer holds per-question answer and flag state for one attempt.
package answer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	// ErrFrozen is returned for any mutation after Freeze.
	ErrFrozen = errors.New("answers are frozen")
	// ErrUnknownQuestion is returned for ids outside the exam definition.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrKindMismatch is returned when a value does not fit the question type.
	ErrKindMismatch = errors.New("answer kind does not match question type")
	// ErrInvalidValue is returned for values referencing unknown choices or languages.
	ErrInvalidValue = errors.New("invalid answer value")
)

// Store keeps answers keyed by question id. Keys are always a subset of the
// bound definition's question ids.
type Store struct {
	def   *model.ExamDefinition
	clock clockwork.Clock

	mu      sync.RWMutex
	records map[string]*model.AnswerRecord
	flags   map[string]struct{}
	frozen  bool
}

// New creates an empty store bound to def.
func New(def *model.ExamDefinition, clock clockwork.Clock) *Store {
	return &Store{
		def:     def,
		clock:   clock,
		records: make(map[string]*model.AnswerRecord),
		flags:   make(map[string]struct{}),
	}
}

// SetAnswer stores v for questionID. Setting an identical value is a no-op and
// reports changed=false; a distinct value bumps LastModifiedAt and Version.
func (s *Store) SetAnswer(questionID string, v model.AnswerValue) (rec model.AnswerRecord, changed bool, err error) {
	q, err := s.validate(questionID, v)
	if err != nil {
		return model.AnswerRecord{}, false, err
	}
	v = v.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return model.AnswerRecord{}, false, ErrFrozen
	}

	r, ok := s.records[questionID]
	if ok && r.Value.Equal(v) {
		return r.Clone(), false, nil
	}
	if !ok {
		r = &model.AnswerRecord{QuestionID: questionID}
		s.records[questionID] = r
	}

	r.Value = v.Clone()
	if q.Type == model.QuestionTypeCoding {
		if r.Sources == nil {
			r.Sources = make(map[string]string)
		}
		r.Sources[v.Language] = v.Code
	}
	r.LastModifiedAt = s.clock.Now()
	r.Version++
	return r.Clone(), true, nil
}

// Restore loads a draft into the store if version is newer than what is held
// in memory. savedAt becomes the record's modification time. It reports
// whether the draft was applied.
func (s *Store) Restore(questionID string, v model.AnswerValue, version uint64, savedAt time.Time) (bool, error) {
	q, err := s.validate(questionID, v)
	if err != nil {
		return false, err
	}
	v = v.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return false, ErrFrozen
	}

	r, ok := s.records[questionID]
	if !ok {
		r = &model.AnswerRecord{QuestionID: questionID}
		s.records[questionID] = r
	}

	if q.Type == model.QuestionTypeCoding {
		if r.Sources == nil {
			r.Sources = make(map[string]string)
		}
		if _, held := r.Sources[v.Language]; held && version <= r.Version {
			return false, nil
		}
		r.Sources[v.Language] = v.Code
		if version >= r.Version {
			r.Value = v.Clone()
			r.Version = version
		}
		if savedAt.After(r.LastModifiedAt) {
			r.LastModifiedAt = savedAt
		}
		return true, nil
	}

	if ok && version <= r.Version {
		return false, nil
	}
	r.Value = v.Clone()
	r.Version = version
	r.LastModifiedAt = savedAt
	return true, nil
}

// GetAnswer returns a copy of the record for questionID.
func (s *Store) GetAnswer(questionID string) (model.AnswerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[questionID]
	if !ok {
		return model.AnswerRecord{}, false
	}
	return r.Clone(), true
}

// ToggleFlag flips the review flag and returns the new state.
func (s *Store) ToggleFlag(questionID string) (bool, error) {
	if _, ok := s.def.Question(questionID); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return false, ErrFrozen
	}
	if _, ok := s.flags[questionID]; ok {
		delete(s.flags, questionID)
		return false, nil
	}
	s.flags[questionID] = struct{}{}
	return true, nil
}

// IsFlagged reports whether questionID is marked for review.
func (s *Store) IsFlagged(questionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flags[questionID]
	return ok
}

// Flags returns the flagged question ids, sorted.
func (s *Store) Flags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flagsLocked()
}

// AllAnswers returns a deep copy of every record.
func (s *Store) AllAnswers() map[string]model.AnswerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Frozen reports whether Freeze has been called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Freeze stops all further mutation and returns the frozen snapshot. Only the
// first call succeeds.
func (s *Store) Freeze() (map[string]model.AnswerRecord, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return nil, nil, ErrFrozen
	}
	s.frozen = true
	return s.copyLocked(), s.flagsLocked(), nil
}

func (s *Store) validate(questionID string, v model.AnswerValue) (*model.QuestionSpec, error) {
	q, ok := s.def.Question(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if q.Type.AnswerKind() != v.Kind {
		return nil, fmt.Errorf("%w: %s expects %s, got %s", ErrKindMismatch, questionID, q.Type.AnswerKind(), v.Kind)
	}

	switch v.Kind {
	case model.AnswerKindChoice:
		if v.Choice != "" && !q.HasChoice(v.Choice) {
			return nil, fmt.Errorf("%w: choice %s", ErrInvalidValue, v.Choice)
		}
	case model.AnswerKindChoices:
		for _, id := range v.Choices {
			if !q.HasChoice(id) {
				return nil, fmt.Errorf("%w: choice %s", ErrInvalidValue, id)
			}
		}
	case model.AnswerKindCode:
		if v.Language == "" || !q.SupportsLanguage(v.Language) {
			return nil, fmt.Errorf("%w: language %q", ErrInvalidValue, v.Language)
		}
	}
	return q, nil
}

func (s *Store) copyLocked() map[string]model.AnswerRecord {
	out := make(map[string]model.AnswerRecord, len(s.records))
	for id, r := range s.records {
		out[id] = r.Clone()
	}
	return out
}

func (s *Store) flagsLocked() []string {
	out := make([]string, 0, len(s.flags))
	for id := range s.flags {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
