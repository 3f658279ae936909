// Package sweeper reclaims expired lock rows in the background. Reads
// already treat expired rows as absent; the sweep only bounds physical
// storage growth, so its cadence is a cost knob, not a correctness one.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirinyoku/seatlock/internal/repository"
)

type Config struct {
	Interval time.Duration
}

type Sweeper struct {
	locks  repository.LockStore
	logger *slog.Logger
	cfg    Config
}

func New(locks repository.LockStore, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	return &Sweeper{
		locks:  locks,
		logger: logger,
		cfg:    cfg,
	}
}

// Run sweeps until ctx is done. Each pass filters on expires_at evaluated
// inside the delete itself, so a lock refreshed mid-sweep survives. Safe to
// run concurrently with itself and with in-flight unlocks: deletes are keyed
// by primary identity.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	swept, err := s.locks.SweepExpired(ctx)
	if err != nil {
		return err
	}

	if swept > 0 {
		s.logger.Info("reclaimed expired locks", "count", swept)
	}

	return nil
}
