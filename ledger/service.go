/*
service.go - Record-purchase orchestration

REQUEST FLOW:
  1. Authorization: the caller must have been admitted by the gate
  2. Validation: structured outcome, early return, no store access on failure
  3. Append: Writer transaction (card check + merchant ensure + append)
  4. Settle: Evaluator transaction, separate from the append

  A failure in step 4 never undoes step 3. The receipt is returned together
  with a *SettlementError so the caller can report both facts.

AUTHORIZATION:
  The HTTP layer decides who the caller is (see auth/ and api/middleware.go).
  This package only sees the resulting Caller and refuses to mutate anything
  for a caller that is not authorized.
*/
package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Caller is the identity the authorization gate produced for a request.
type Caller struct {
	ID         string
	Authorized bool
}

// Receipt is the outcome of a recorded purchase.
type Receipt struct {
	Transaction Transaction
	Settlement  Result
}

// Config tunes the service.
type Config struct {
	Retry     RetryPolicy
	Tolerance decimal.Decimal
}

// Service wires the writer, the evaluator and the read projections over one
// store handle.
type Service struct {
	writer    *Writer
	evaluator *Evaluator
	queries   *Queries
	logger    *slog.Logger
}

// NewService creates a Service. The store handle is shared read-only by all
// components.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = discardLogger()
	}
	registry := NewRegistry(logger)
	return &Service{
		writer:    NewWriter(store, registry, cfg.Retry, logger),
		evaluator: NewEvaluator(store, cfg.Retry, cfg.Tolerance, logger),
		queries:   NewQueries(store),
		logger:    logger,
	}
}

// Queries returns the read projections.
func (s *Service) Queries() *Queries { return s.queries }

// Evaluator returns the settlement evaluator.
func (s *Service) Evaluator() *Evaluator { return s.evaluator }

// RecordPurchase appends a purchase and then runs a settlement pass.
//
// On a settlement failure the returned receipt is non-nil and the error is a
// *SettlementError: the purchase is durable, only the settlement pass failed.
func (s *Service) RecordPurchase(ctx context.Context, caller Caller, in PurchaseInput) (*Receipt, error) {
	if !caller.Authorized {
		return nil, ErrUnauthorized
	}

	p, err := ValidatePurchase(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.writer.AppendValidated(ctx, p)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Transaction: tx}
	result, err := s.evaluator.Evaluate(ctx)
	if err != nil {
		s.logger.Warn("settlement pass failed after append",
			"transaction_id", tx.ID, "caller", caller.ID, "error", err)
		return receipt, &SettlementError{Err: err}
	}
	receipt.Settlement = result
	return receipt, nil
}

// Settle runs a settlement pass on demand.
func (s *Service) Settle(ctx context.Context, caller Caller) (Result, error) {
	if !caller.Authorized {
		return Result{}, ErrUnauthorized
	}
	return s.evaluator.Evaluate(ctx)
}
