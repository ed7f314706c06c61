// Package draft is the durable draft cache that lets an attempt survive a
// reload. Entries are keyed by (question id, variant) and carry the answer
// version they were taken from.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Entry is one cached draft.
type Entry struct {
	Version uint64            `json:"version"`
	Value   model.AnswerValue `json:"value"`
	SavedAt time.Time         `json:"saved_at"`
}

// Cache serializes entries into a KV.
type Cache struct {
	kv KV
}

// NewCache creates a Cache over kv.
func NewCache(kv KV) *Cache {
	return &Cache{kv: kv}
}

// Key returns the KV key for (questionID, variant).
func Key(questionID, variant string) string {
	return "draft:" + questionID + ":" + variant
}

// Save overwrites the entry for (questionID, variant).
func (c *Cache) Save(ctx context.Context, questionID, variant string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	return c.kv.Set(ctx, Key(questionID, variant), string(raw))
}

// Load reads the entry for (questionID, variant).
func (c *Cache) Load(ctx context.Context, questionID, variant string) (Entry, bool, error) {
	raw, ok, err := c.kv.Get(ctx, Key(questionID, variant))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal draft %s/%s: %w", questionID, variant, err)
	}
	return e, true, nil
}

// ClearAll removes every entry.
func (c *Cache) ClearAll(ctx context.Context) error {
	return c.kv.RemoveAll(ctx)
}
