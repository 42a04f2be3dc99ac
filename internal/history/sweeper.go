package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBatchSize = 1000
	DefaultPause     = 100 * time.Millisecond
)

type Deleter interface {
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Sweeper deletes expired snapshots in bounded batches, pausing between
// batches so it never holds long locks on the history table.
type Sweeper struct {
	store Deleter
	batch int
	pause time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

func NewSweeper(deleter Deleter, batch int, pause time.Duration, log zerolog.Logger) *Sweeper {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if pause < 0 {
		pause = DefaultPause
	}
	return &Sweeper{
		store: deleter,
		batch: batch,
		pause: pause,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run deletes every snapshot older than the window and returns how many were
// removed. The cutoff is fixed when the run starts. On error the run stops
// and the count so far is returned with it.
func (s *Sweeper) Run(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-Window)
	var total int64
	for {
		deleted, err := s.store.DeleteHistoryBefore(ctx, cutoff, s.batch)
		if err != nil {
			return total, fmt.Errorf("sweep history: %w", err)
		}
		total += deleted
		if deleted < int64(s.batch) {
			return total, nil
		}
		if s.pause > 0 {
			timer := time.NewTimer(s.pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return total, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Start runs the sweep immediately and then every interval until ctx is
// cancelled. Failures are logged and never propagate. The returned channel
// is closed when the loop exits.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runLogged(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runLogged(ctx)
			}
		}
	}()
	return done
}

func (s *Sweeper) runLogged(ctx context.Context) {
	started := time.Now()
	s.log.Info().Msg("history sweep started")
	deleted, err := s.Run(ctx)
	if err != nil {
		s.log.Error().Err(err).Int64("deleted", deleted).Msg("history sweep failed")
		return
	}
	s.log.Info().Int64("deleted", deleted).Dur("duration", time.Since(started)).Msg("history sweep finished")
}
