package ledger

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaxAttempts is the retry budget of an optimistic transaction.
const DefaultMaxAttempts = 5

// RetryPolicy bounds how often a conflicting transactional body is re-run.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: 2 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// RunInTx runs fn in an optimistic transaction, re-running the whole body
// from a fresh snapshot each time the store reports a conflict. After
// MaxAttempts conflicts it returns *ConflictError. Any other error from fn or
// from the store is returned as is, after the store has discarded the body's
// writes.
func RunInTx(ctx context.Context, store Store, policy RetryPolicy, logger *slog.Logger, op string, fn func(Tx) error) error {
	if logger == nil {
		logger = discardLogger()
	}
	max := policy.attempts()

	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		last = err
		logger.Debug("transaction conflict", "op", op, "attempt", attempt, "max_attempts", max)

		if attempt < max && policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * policy.Backoff):
			}
		}
	}

	logger.Warn("transaction retry budget exhausted", "op", op, "attempts", max)
	return &ConflictError{Attempts: max, Err: last}
}
