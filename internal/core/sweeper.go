package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/agent-web/agent-web-server/internal/store"
)

// RetentionSweeper periodically removes transcripts that have been idle
// longer than MaxAge.
type RetentionSweeper struct {
	transcript *store.Transcript
	interval   time.Duration
	maxAge     time.Duration
	logger     *slog.Logger
}

func NewRetentionSweeper(transcript *store.Transcript, interval, maxAge time.Duration, logger *slog.Logger) *RetentionSweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetentionSweeper{
		transcript: transcript,
		interval:   interval,
		maxAge:     maxAge,
		logger:     logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Missed ticks are dropped, not caught up.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	s.logger.Info("retention sweeper started", "interval", s.interval, "max_age", s.maxAge)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	n := s.transcript.Sweep(ctx, s.maxAge)
	if n > 0 {
		s.logger.Info("removed stale chat history", "rows", n)
		return
	}
	s.logger.Debug("no stale chat history")
}
