package model

import (
	"sort"
	"time"
)

// DefaultVariant is the draft variant for every non-coding answer.
const DefaultVariant = "answer"

// AnswerKind tags which field of AnswerValue is meaningful.
type AnswerKind string

const (
	AnswerKindChoice  AnswerKind = "choice"
	AnswerKindChoices AnswerKind = "choices"
	AnswerKindText    AnswerKind = "text"
	AnswerKindCode    AnswerKind = "code"
)

// AnswerValue is a tagged variant over the answer shapes.
type AnswerValue struct {
	Kind     AnswerKind `json:"kind"`
	Choice   string     `json:"choice,omitempty"`
	Choices  []string   `json:"choices,omitempty"`
	Text     string     `json:"text,omitempty"`
	Language string     `json:"language,omitempty"`
	Code     string     `json:"code,omitempty"`
}

// SingleChoice builds a single-choice answer.
func SingleChoice(id string) AnswerValue {
	return AnswerValue{Kind: AnswerKindChoice, Choice: id}
}

// MultipleChoice builds a multiple-choice answer. Order is irrelevant and
// duplicates are dropped.
func MultipleChoice(ids ...string) AnswerValue {
	return AnswerValue{Kind: AnswerKindChoices, Choices: normalizeSet(ids)}
}

// Text builds a short-answer or essay answer.
func Text(s string) AnswerValue {
	return AnswerValue{Kind: AnswerKindText, Text: s}
}

// Code builds a coding answer for one language.
func Code(language, source string) AnswerValue {
	return AnswerValue{Kind: AnswerKindCode, Language: language, Code: source}
}

// Variant returns the draft-cache variant this value is stored under.
func (v AnswerValue) Variant() string {
	if v.Kind == AnswerKindCode {
		return v.Language
	}
	return DefaultVariant
}

// IsEmpty reports whether the value carries no answer.
func (v AnswerValue) IsEmpty() bool {
	switch v.Kind {
	case AnswerKindChoice:
		return v.Choice == ""
	case AnswerKindChoices:
		return len(v.Choices) == 0
	case AnswerKindText:
		return v.Text == ""
	case AnswerKindCode:
		return v.Code == ""
	default:
		return true
	}
}

// Equal compares two values; choice sets compare by membership.
func (v AnswerValue) Equal(o AnswerValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case AnswerKindChoice:
		return v.Choice == o.Choice
	case AnswerKindChoices:
		return SameSet(v.Choices, o.Choices)
	case AnswerKindText:
		return v.Text == o.Text
	case AnswerKindCode:
		return v.Language == o.Language && v.Code == o.Code
	default:
		return true
	}
}

// Clone returns a copy that shares no memory with v.
func (v AnswerValue) Clone() AnswerValue {
	c := v
	if v.Choices != nil {
		c.Choices = append([]string(nil), v.Choices...)
	}
	return c
}

// Normalize sorts and de-duplicates choice sets.
func (v AnswerValue) Normalize() AnswerValue {
	if v.Kind == AnswerKindChoices {
		v.Choices = normalizeSet(v.Choices)
	}
	return v
}

// AnswerRecord is the per-question answer state. Records are never deleted;
// clearing stores an empty value.
type AnswerRecord struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
	// Sources keeps every language's code for coding questions so switching
	// language does not lose other drafts.
	Sources        map[string]string `json:"sources,omitempty"`
	LastModifiedAt time.Time         `json:"last_modified_at"`
	Version        uint64            `json:"version"`
}

// Clone deep-copies the record.
func (r AnswerRecord) Clone() AnswerRecord {
	c := r
	c.Value = r.Value.Clone()
	if r.Sources != nil {
		c.Sources = make(map[string]string, len(r.Sources))
		for k, v := range r.Sources {
			c.Sources[k] = v
		}
	}
	return c
}

// SameSet reports whether a and b contain the same members.
func SameSet(a, b []string) bool {
	as, bs := normalizeSet(a), normalizeSet(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func normalizeSet(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
