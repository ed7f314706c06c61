package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// IntegrityStore persists integrity log records.
type IntegrityStore interface {
	CopyEvents(ctx context.Context, recs []model.IntegrityRecord) error
	InsertEvent(ctx context.Context, rec model.IntegrityRecord) error
}

// IntegrityWorker consumes persist_integrity_queue into the integrity event
// table.
type IntegrityWorker struct {
	store IntegrityStore
	log   zerolog.Logger
	loop  *batchLoop[model.IntegrityRecord]
}

// NewIntegrityWorker creates a new IntegrityWorker.
func NewIntegrityWorker(rdb *redis.Client, store IntegrityStore, opts BatchOptions, log zerolog.Logger) *IntegrityWorker {
	w := &IntegrityWorker{
		store: store,
		log:   log.With().Str("component", "integrity_worker").Logger(),
	}
	w.loop = &batchLoop[model.IntegrityRecord]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistIntegrityQueue,
		opts:  opts.withDefaults(),
		log:   w.log,
		decode: func(raw string) (model.IntegrityRecord, error) {
			var rec model.IntegrityRecord
			err := json.Unmarshal([]byte(raw), &rec)
			return rec, err
		},
		flush: w.flushSafe,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *IntegrityWorker) Start(ctx context.Context) {
	w.log.Info().Msg("IntegrityWorker started")
	w.loop.run(ctx)
}

// flushSafe attempts COPY, then row-by-row inserts. Rows that fail for any
// reason other than being malformed are returned for requeue.
func (w *IntegrityWorker) flushSafe(ctx context.Context, batch []queued[model.IntegrityRecord]) []queued[model.IntegrityRecord] {
	recs := make([]model.IntegrityRecord, 0, len(batch))
	for _, q := range batch {
		recs = append(recs, q.item)
	}

	err := w.store.CopyEvents(ctx, recs)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var retry []queued[model.IntegrityRecord]
	for _, q := range batch {
		err := w.store.InsertEvent(ctx, q.item)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrMalformedRecord):
			w.log.Error().Err(err).Str("data", q.raw).Msg("Dropping malformed integrity record")
		default:
			w.log.Error().Err(err).Str("attempt_id", q.item.AttemptID).Msg("Insert failed, requeueing")
			retry = append(retry, q)
		}
	}
	return retry
}
