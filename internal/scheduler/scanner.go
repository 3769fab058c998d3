package scheduler

import (
	"context"
	"log/slog"
	"time"

	"paysched/internal/recurrence"
	"paysched/internal/types"
)

// Clock provides the trusted time used for due evaluation. Implemented by
// clock.TrustedClock.
type Clock interface {
	Now() time.Time
}

// ScanStore is the subset of the payment store the scanner reads from.
type ScanStore interface {
	FindAllActive(ctx context.Context) ([]*types.ScheduledPayment, error)
}

// Executor runs one due payment. Implemented by PaymentExecutor.
type Executor interface {
	Execute(ctx context.Context, p *types.ScheduledPayment, now time.Time) error
}

// Scanner drives the periodic due-payment scan.
type Scanner struct {
	store    ScanStore
	executor Executor
	clock    Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewScanner creates a Scanner that ticks on the given interval.
func NewScanner(store ScanStore, executor Executor, clk Clock, interval time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:    store,
		executor: executor,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks immediately, then on every interval until the context is
// cancelled. A tick that is already in flight when shutdown starts is allowed
// to drain: stopping mid-execution would risk a transfer going out without
// its execution record.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("due-payment scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(context.WithoutCancel(ctx))
		}
	}
}

// tick runs one scan cycle: a single clock snapshot, one load of the active
// set, then sequential execution of every due payment. One payment's failure
// never aborts the rest of the cycle.
func (s *Scanner) tick(ctx context.Context) {
	now := s.clock.Now()

	active, err := s.store.FindAllActive(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load active scheduled payments",
			slog.Any("error", err),
		)
		return
	}

	due := 0
	executed := 0
	for _, p := range active {
		if !recurrence.IsDue(p.Schedule, p.LastExecutionAt, now) {
			continue
		}
		due++
		if err := s.executor.Execute(ctx, p, now); err != nil {
			// Already logged by the executor with payment context.
			continue
		}
		executed++
	}

	if due > 0 {
		s.logger.InfoContext(ctx, "scan cycle complete",
			slog.Time("scan_time", now),
			slog.Int("active", len(active)),
			slog.Int("due", due),
			slog.Int("executed", executed),
		)
	}
}
