package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BatchOptions tunes a queue worker.
type BatchOptions struct {
	Size    int
	Timeout time.Duration
	// Poll is the BLPop timeout. Must be >= 1s to satisfy Redis.
	Poll time.Duration
	// RequeuePause is slept after failed items are pushed back.
	RequeuePause time.Duration
}

// DefaultBatchOptions flushes every 50 items or 2 seconds.
var DefaultBatchOptions = BatchOptions{
	Size:         50,
	Timeout:      2 * time.Second,
	Poll:         time.Second,
	RequeuePause: 2 * time.Second,
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Size <= 0 {
		o.Size = DefaultBatchOptions.Size
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultBatchOptions.Timeout
	}
	if o.Poll < time.Second {
		o.Poll = DefaultBatchOptions.Poll
	}
	if o.RequeuePause < 0 {
		o.RequeuePause = 0
	}
	return o
}

// queued keeps the raw message next to its decoded form so it can be pushed
// back unchanged.
type queued[T any] struct {
	raw  string
	item T
}

// batchLoop drains a Redis list into batches. flush returns the items that
// must be retried and must not retain the slice it is given.
type batchLoop[T any] struct {
	rdb    *redis.Client
	queue  string
	opts   BatchOptions
	log    zerolog.Logger
	decode func(raw string) (T, error)
	flush  func(ctx context.Context, batch []queued[T]) []queued[T]
}

func (l *batchLoop[T]) run(ctx context.Context) {
	buffer := make([]queued[T], 0, l.opts.Size)
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			l.shutdown(buffer)
			return
		default:
		}

		if len(buffer) > 0 && (len(buffer) >= l.opts.Size || time.Since(lastFlush) >= l.opts.Timeout) {
			// A flush that has started finishes even if shutdown begins.
			failed := l.flush(context.WithoutCancel(ctx), buffer)
			if l.requeue(context.WithoutCancel(ctx), failed) {
				sleep(ctx, l.opts.RequeuePause)
			}
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		result, err := l.rdb.BLPop(ctx, l.opts.Poll, l.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			l.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		item, err := l.decode(result[1])
		if err != nil {
			// Malformed JSON can never succeed. Log and discard.
			l.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed payload")
			continue
		}
		buffer = append(buffer, queued[T]{raw: result[1], item: item})
	}
}

func (l *batchLoop[T]) shutdown(buffer []queued[T]) {
	l.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.requeue(ctx, l.flush(ctx, buffer))
}

// requeue pushes raw messages back onto the queue tail and reports whether
// anything was pushed.
func (l *batchLoop[T]) requeue(ctx context.Context, items []queued[T]) bool {
	if len(items) == 0 {
		return false
	}
	pipe := l.rdb.Pipeline()
	for _, it := range items {
		pipe.RPush(ctx, l.queue, it.raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return false
	}
	l.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
