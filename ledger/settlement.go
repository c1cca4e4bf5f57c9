/*
settlement.go - Balance tally and conditional archive

ALGORITHM (one optimistic transaction, all reads from one snapshot):
  1. Read every active card and group the cards by cardholder.
  2. Sum the non-archived transactions of each cardholder's cards.
  3. No cardholders -> nothing to do. Every total equal to the first (within
     Tolerance) -> settled.
  4. Settled: re-enumerate the non-archived transactions of every active card
     and archive each one, in the same transaction as the reads.
  5. Not settled: no writes.

  Because the decision and the archive share one snapshot and one commit, a
  transaction appended concurrently either was counted and is archived, or
  makes the commit conflict and the whole pass re-runs. It is never archived
  without having been counted.

EQUALITY:
  Totals are decimal, so the default Tolerance of zero is exact equality.
  A positive Tolerance (for example 0.01) accepts totals that differ by at
  most that amount.

SCOPE:
  Archiving covers every active card whenever the totals match, not only the
  cards whose balances were compared.
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TALLY - Ordered cardholder balances
// =============================================================================

// CardholderBalance is one cardholder's outstanding total.
type CardholderBalance struct {
	Cardholder string
	CardIDs    []CardID
	Total      decimal.Decimal
}

// Tally maps cardholder name to balance with a deterministic iteration order.
// It lives for one evaluation and is rebuilt from scratch every time.
type Tally struct {
	entries []CardholderBalance
	index   map[string]int
}

func newTally() *Tally {
	return &Tally{index: make(map[string]int)}
}

func (t *Tally) addCard(c Card) {
	i, ok := t.index[c.Cardholder]
	if !ok {
		i = len(t.entries)
		t.index[c.Cardholder] = i
		t.entries = append(t.entries, CardholderBalance{Cardholder: c.Cardholder, Total: decimal.Zero})
	}
	t.entries[i].CardIDs = append(t.entries[i].CardIDs, c.ID)
}

func (t *Tally) add(cardholder string, amount decimal.Decimal) {
	i := t.index[cardholder]
	t.entries[i].Total = t.entries[i].Total.Add(amount)
}

// Len returns the number of cardholders.
func (t *Tally) Len() int { return len(t.entries) }

// Balances returns a copy of the entries sorted by cardholder name.
func (t *Tally) Balances() []CardholderBalance {
	out := make([]CardholderBalance, len(t.entries))
	for i, e := range t.entries {
		out[i] = CardholderBalance{
			Cardholder: e.Cardholder,
			CardIDs:    append([]CardID(nil), e.CardIDs...),
			Total:      e.Total,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cardholder < out[j].Cardholder })
	return out
}

// Settled reports whether every total is within tolerance of the first one.
// An empty tally is never settled.
func (t *Tally) Settled(tolerance decimal.Decimal) bool {
	if len(t.entries) == 0 {
		return false
	}
	tolerance = tolerance.Abs()
	balances := t.Balances()
	first := balances[0].Total
	for _, b := range balances[1:] {
		if b.Total.Sub(first).Abs().GreaterThan(tolerance) {
			return false
		}
	}
	return true
}

// BuildTally reads active cards and their non-archived transactions from r.
// Pass a Tx to get a snapshot-consistent tally.
func BuildTally(ctx context.Context, r Reader) (*Tally, error) {
	cards, err := r.ListCards(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active cards: %w", err)
	}

	t := newTally()
	for _, c := range cards {
		t.addCard(c)
	}
	for _, c := range cards {
		txs, err := r.ListTransactions(ctx, c.ID, TransactionFilter{ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("list transactions for card %s: %w", c.ID, err)
		}
		for _, tx := range txs {
			t.add(c.Cardholder, tx.Amount)
		}
	}
	return t, nil
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Result describes one settlement pass.
type Result struct {
	Settled  bool
	Archived int
	Balances []CardholderBalance // as tallied before archiving
}

// Evaluator decides whether the group is settled and archives if so.
type Evaluator struct {
	store     Store
	policy    RetryPolicy
	tolerance decimal.Decimal
	logger    *slog.Logger
}

// NewEvaluator creates an evaluator. tolerance is the largest accepted
// difference between cardholder totals; zero means exact equality.
func NewEvaluator(store Store, policy RetryPolicy, tolerance decimal.Decimal, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = discardLogger()
	}
	return &Evaluator{store: store, policy: policy, tolerance: tolerance.Abs(), logger: logger}
}

// Evaluate runs one settlement pass over current store state.
func (e *Evaluator) Evaluate(ctx context.Context) (Result, error) {
	var res Result

	err := RunInTx(ctx, e.store, e.policy, e.logger, "settle", func(tx Tx) error {
		res = Result{}

		tally, err := BuildTally(ctx, tx)
		if err != nil {
			return err
		}
		res.Balances = tally.Balances()
		if !tally.Settled(e.tolerance) {
			return nil
		}
		res.Settled = true

		archived, err := archiveActive(ctx, tx)
		if err != nil {
			return err
		}
		res.Archived = archived
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Settled {
		e.logger.Info("group settled", "archived", res.Archived, "cardholders", len(res.Balances))
	} else {
		e.logger.Debug("group not settled", "cardholders", len(res.Balances))
	}
	return res, nil
}

// archiveActive is the second read pass: every non-archived transaction of
// every active card is archived.
func archiveActive(ctx context.Context, tx Tx) (int, error) {
	cards, err := tx.ListCards(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list active cards: %w", err)
	}

	n := 0
	for _, c := range cards {
		txs, err := tx.ListTransactions(ctx, c.ID, TransactionFilter{ActiveOnly: true})
		if err != nil {
			return 0, fmt.Errorf("list transactions for card %s: %w", c.ID, err)
		}
		for _, t := range txs {
			if err := tx.ArchiveTransaction(ctx, c.ID, t.ID); err != nil {
				return 0, fmt.Errorf("archive transaction %s: %w", t.ID, err)
			}
			n++
		}
	}
	return n, nil
}
