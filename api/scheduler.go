/*
scheduler.go - Background settlement sweeper

PURPOSE:
  Settlement normally runs right after each recorded purchase. When that
  pass fails (conflict budget exhausted, store hiccup) the purchase stays
  committed and the ledger may sit in a settled-but-unarchived state until
  the next purchase. The sweeper closes that gap by running a settlement
  pass on a fixed interval.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each pass is an ordinary Evaluator run, so it obeys the same retry
    budget and the same all-or-nothing archive rule
  - A zero interval disables the sweeper

USAGE:
  sweeper := NewSettlementSweeper(service.Evaluator(), interval, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: Settle endpoint (manual settlement)
  - ledger/settlement.go: Evaluator
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/who-owes-who/ledger"
)

// SettlementRunner runs one settlement pass. *ledger.Evaluator satisfies it.
type SettlementRunner interface {
	Evaluate(ctx context.Context) (ledger.Result, error)
}

// SettlementSweeper periodically re-runs settlement.
type SettlementSweeper struct {
	Runner        SettlementRunner
	CheckInterval time.Duration
	// PassTimeout bounds a single pass.
	PassTimeout time.Duration

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSettlementSweeper creates a new sweeper.
func NewSettlementSweeper(runner SettlementRunner, interval time.Duration, logger *slog.Logger) *SettlementSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementSweeper{
		Runner:        runner,
		CheckInterval: interval,
		PassTimeout:   30 * time.Second,
		logger:        logger.With("component", "sweeper"),
	}
}

// Enabled reports whether Start will launch the loop.
func (s *SettlementSweeper) Enabled() bool {
	return s.CheckInterval > 0
}

// Start begins the sweeper.
func (s *SettlementSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		s.logger.Info("sweeper disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.logger.Info("sweeper started", "interval", s.CheckInterval)
}

// Stop stops the sweeper and waits for an in-flight pass.
func (s *SettlementSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("sweeper stopped")
	}
}

func (s *SettlementSweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow()

	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stop:
			return
		}
	}
}

// RunNow runs one settlement pass synchronously and returns its result.
func (s *SettlementSweeper) RunNow() (ledger.Result, error) {
	ctx := context.Background()
	if s.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.PassTimeout)
		defer cancel()
	}

	result, err := s.Runner.Evaluate(ctx)
	if err != nil {
		s.logger.Warn("settlement sweep failed", "error", err)
		return result, err
	}
	if result.Archived > 0 {
		s.logger.Info("settlement sweep archived transactions", "archived", result.Archived)
	} else {
		s.logger.Debug("settlement sweep found nothing to archive", "settled", result.Settled)
	}
	return result, nil
}
