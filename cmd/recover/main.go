// Command recover moves submissions parked after failed delivery back onto
// the persistence queue.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/transport"
)

func main() {
	var limit int
	flag.IntVar(&limit, "limit", 1000, "Maximum number of submissions to replay")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	moved, err := transport.NewRecoveryQueue(rdb, log).Replay(ctx, limit)
	if err != nil {
		log.Fatal().Err(err).Int("replayed", moved).Msg("Replay interrupted")
	}
	log.Info().Int("replayed", moved).Msg("Replay finished")
}
