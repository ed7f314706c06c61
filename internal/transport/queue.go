// Package transport delivers frozen submissions to the persistence workers
// over Redis lists.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QueueSubmitter pushes a payload onto the submission queue and its integrity
// log onto the integrity queue in one transaction.
type QueueSubmitter struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewQueueSubmitter creates a QueueSubmitter.
func NewQueueSubmitter(rdb *redis.Client, log zerolog.Logger) *QueueSubmitter {
	return &QueueSubmitter{
		rdb: rdb,
		log: log.With().Str("component", "submission_transport").Logger(),
	}
}

// Submit implements session.Submitter. Encoding errors are permanent and
// are not retried.
func (s *QueueSubmitter) Submit(ctx context.Context, p *model.SubmissionPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal submission: %w", err))
	}
	events, err := integrityRecords(p)
	if err != nil {
		return backoff.Permanent(err)
	}

	if err := enqueue(ctx, s.rdb, raw, events); err != nil {
		return fmt.Errorf("queue submission: %w", err)
	}

	s.log.Debug().
		Str("attempt_id", p.AttemptID.String()).
		Int("integrity_events", len(events)).
		Msg("Submission queued")
	return nil
}

// integrityRecords encodes the payload's integrity log for the integrity queue.
func integrityRecords(p *model.SubmissionPayload) ([]interface{}, error) {
	events := make([]interface{}, 0, len(p.IntegrityLog))
	for _, e := range p.IntegrityLog {
		rec, err := json.Marshal(model.IntegrityRecord{
			AttemptID: p.AttemptID.String(),
			ExamID:    p.ExamID.String(),
			StudentID: p.StudentID,
			Type:      e.Type,
			Timestamp: e.Timestamp.UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal integrity event: %w", err)
		}
		events = append(events, rec)
	}
	return events, nil
}

// enqueue pushes a submission and its integrity records in one transaction.
func enqueue(ctx context.Context, rdb *redis.Client, raw interface{}, events []interface{}) error {
	pipe := rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, raw)
	if len(events) > 0 {
		pipe.RPush(ctx, config.WorkerKey.PersistIntegrityQueue, events...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RecoveryQueue parks payloads whose delivery failed so an operator can
// replay them.
type RecoveryQueue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRecoveryQueue creates a RecoveryQueue.
func NewRecoveryQueue(rdb *redis.Client, log zerolog.Logger) *RecoveryQueue {
	return &RecoveryQueue{
		rdb: rdb,
		log: log.With().Str("component", "recovery_queue").Logger(),
	}
}

// Recover implements session.Recovery.
func (q *RecoveryQueue) Recover(ctx context.Context, p *model.SubmissionPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.FailedSubmissionsQueue, raw).Err(); err != nil {
		q.log.Error().Err(err).Str("attempt_id", p.AttemptID.String()).
			Msg("CRITICAL: Failed to park submission. Payload only held in memory.")
		return err
	}
	q.log.Warn().Str("attempt_id", p.AttemptID.String()).Msg("Submission parked for recovery")
	return nil
}

// Replay moves up to limit parked payloads back onto the submission queue,
// together with their integrity logs. A message that cannot be decoded is
// moved as is and left to the submission worker to discard.
func (q *RecoveryQueue) Replay(ctx context.Context, limit int) (int, error) {
	moved := 0
	for moved < limit {
		raw, err := q.rdb.LPop(ctx, config.WorkerKey.FailedSubmissionsQueue).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("replay submission: %w", err)
		}

		var events []interface{}
		var p model.SubmissionPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			q.log.Warn().Err(err).Msg("Replaying undecodable submission as is")
		} else if events, err = integrityRecords(&p); err != nil {
			events = nil
			q.log.Warn().Err(err).Str("attempt_id", p.AttemptID.String()).Msg("Integrity log not replayed")
		}

		if err := enqueue(ctx, q.rdb, raw, events); err != nil {
			// Put it back at the head so the next replay sees it first.
			if perr := q.rdb.LPush(ctx, config.WorkerKey.FailedSubmissionsQueue, raw).Err(); perr != nil {
				q.log.Error().Err(perr).Str("payload", raw).
					Msg("CRITICAL: Failed to return submission to recovery queue")
			}
			return moved, fmt.Errorf("replay submission: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.log.Info().Int("count", moved).Msg("Replayed parked submissions")
	}
	return moved, nil
}
