package store

import (
	"context"
	"log/slog"
	"time"
)

// Transcript owns all chat turn data. Storage failures never reach the
// caller: they are logged and the operation degrades to a no-op or an
// empty result so the request path can still complete.
type Transcript struct {
	driver Driver
	logger *slog.Logger
	now    func() time.Time
}

func NewTranscript(driver Driver, logger *slog.Logger) *Transcript {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transcript{driver: driver, logger: logger, now: time.Now}
}

// WithClock replaces the time source used to stamp turns and compute the
// sweep cutoff.
func (t *Transcript) WithClock(now func() time.Time) *Transcript {
	t.now = now
	return t
}

// Append persists one turn at most once. The insertion time is assigned
// here; any value set by the caller is ignored. It reports whether the
// turn was stored.
func (t *Transcript) Append(ctx context.Context, turn Turn) bool {
	turn.CreatedAt = t.now()
	if err := t.driver.InsertTurn(ctx, turn); err != nil {
		t.logger.Warn("append chat turn failed",
			"subject", turn.Subject,
			"role", turn.Role,
			"error", err,
		)
		return false
	}
	return true
}

// Load returns the subject's turns in ascending insertion order.
func (t *Transcript) Load(ctx context.Context, subject string) []Turn {
	turns, err := t.driver.ListTurns(ctx, subject)
	if err != nil {
		t.logger.Warn("load chat history failed", "subject", subject, "error", err)
		return []Turn{}
	}
	return turns
}

func (t *Transcript) Clear(ctx context.Context, subject string) {
	n, err := t.driver.DeleteSubject(ctx, subject)
	if err != nil {
		t.logger.Warn("clear chat history failed", "subject", subject, "error", err)
		return
	}
	t.logger.Debug("chat history cleared", "subject", subject, "rows", n)
}

// Sweep deletes every transcript whose newest turn is older than maxAge
// and returns the number of deleted rows.
func (t *Transcript) Sweep(ctx context.Context, maxAge time.Duration) int64 {
	cutoff := t.now().Add(-maxAge)
	n, err := t.driver.DeleteStale(ctx, cutoff)
	if err != nil {
		t.logger.Warn("sweep stale chat history failed", "cutoff", cutoff, "error", err)
		return 0
	}
	return n
}
