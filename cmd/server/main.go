package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/integrity"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/stemsi/exstem-proctor/internal/transport"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("draft_backend", cfg.DraftBackend).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	integrityRepo := repository.NewIntegrityRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	clock := clockwork.NewRealClock()
	examService := service.NewExamService(examRepo, rdb, log)
	attemptService := service.NewAttemptService(service.AttemptDeps{
		Exams:     examService,
		Attempts:  attemptRepo,
		Drafts:    draftFactory(cfg, pool, rdb),
		Submitter: transport.NewQueueSubmitter(rdb, log),
		Recovery:  transport.NewRecoveryQueue(rdb, log),
		Redis:     rdb,
		Clock:     clock,
		Defaults: session.Options{
			Policy: integrity.Policy{
				MaxTabSwitches:     cfg.MaxTabSwitches,
				MaxFullscreenExits: cfg.MaxFullscreenExits,
			},
			SubmitAttempts: cfg.SubmitAttempts,
			SubmitBackoff:  cfg.SubmitBackoff,
			SubmitTimeout:  cfg.SubmitTimeout,
			AutosaveIdle:   cfg.AutosaveIdle,
		},
		Logger: log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, examService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	submissionWorker := worker.NewSubmissionWorker(rdb, examService, submissionRepo, worker.DefaultBatchOptions, log)
	integrityWorker := worker.NewIntegrityWorker(rdb, integrityRepo, worker.DefaultBatchOptions, log)
	limiter := middleware.NewRateLimiter(clock, cfg.RateLimit, cfg.RateLimitInterval)

	for _, start := range []func(context.Context){submissionWorker.Start, integrityWorker.Start, limiter.Run} {
		workers.Add(1)
		go func(start func(context.Context)) {
			defer workers.Done()
			start(workerCtx)
		}(start)
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all open exams into Redis BEFORE accepting traffic.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// Deliveries cut off by the previous shutdown are rebuilt from drafts.
	if n, err := attemptService.ResumePending(ctx); err != nil {
		log.Warn().Err(err).Msg("Resuming interrupted submissions failed")
	} else if n > 0 {
		log.Info().Int("attempts", n).Msg("Interrupted submissions resumed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Detach live attempts. They resume from storage on the next start.
	attemptService.Shutdown()

	// 3. Stop background workers and wait for their buffers to flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// draftFactory selects the draft store per DRAFT_BACKEND.
func draftFactory(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) service.DraftFactory {
	switch cfg.DraftBackend {
	case config.DraftBackendPostgres:
		return func(id uuid.UUID) draft.KV { return draft.NewPostgresKV(pool, id) }
	case config.DraftBackendMemory:
		var stores sync.Map
		return func(id uuid.UUID) draft.KV {
			kv, _ := stores.LoadOrStore(id, draft.NewMemoryKV())
			return kv.(draft.KV)
		}
	default:
		return func(id uuid.UUID) draft.KV {
			return draft.NewRedisKV(rdb, config.CacheKey.AttemptDraftsKey(id.String()), cfg.DraftTTL)
		}
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
