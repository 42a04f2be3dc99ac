// Command historysweep deletes expired note history once and exits. It is
// meant for cron-style schedulers when the API's built-in sweep is disabled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"notespace/internal/config"
	"notespace/internal/history"
	"notespace/internal/logging"
	"notespace/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	sweeper := history.NewSweeper(store.NewPostgresStore(db), cfg.HistorySweepBatch, cfg.HistorySweepPause, logger)
	deleted, err := sweeper.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Int64("deleted", deleted).Msg("history sweep failed")
		os.Exit(1)
	}
	fmt.Printf("deleted %d expired history entries\n", deleted)
}
