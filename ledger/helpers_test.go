package ledger_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/who-owes-who/ledger"
	"github.com/warp/who-owes-who/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	cardAlice = ledger.Card{ID: "card-alice", Cardholder: "Alice", Initials: "AL", Active: true}
	cardBob   = ledger.Card{ID: "card-bob", Cardholder: "Bob", Initials: "BO", Active: true}
)

// newTestStore returns a memory store holding the given cards.
func newTestStore(t *testing.T, cards ...ledger.Card) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	for _, c := range cards {
		require.NoError(t, s.SaveCard(context.Background(), c))
	}
	return s
}

func testPolicy(attempts int) ledger.RetryPolicy {
	return ledger.RetryPolicy{MaxAttempts: attempts}
}

func purchase(cardID ledger.CardID, merchant, amount string) ledger.PurchaseInput {
	return ledger.PurchaseInput{CardID: string(cardID), MerchantName: merchant, Amount: amount}
}

// activeTransactions returns the non-archived transactions of a card.
func activeTransactions(t *testing.T, r ledger.Reader, cardID ledger.CardID) []ledger.Transaction {
	t.Helper()
	txs, err := r.ListTransactions(context.Background(), cardID, ledger.TransactionFilter{ActiveOnly: true})
	require.NoError(t, err)
	return txs
}

func allTransactions(t *testing.T, r ledger.Reader, cardID ledger.CardID) []ledger.Transaction {
	t.Helper()
	txs, err := r.ListTransactions(context.Background(), cardID, ledger.TransactionFilter{})
	require.NoError(t, err)
	return txs
}

// conflictTimes returns a commit hook that rejects the first n commits with
// a conflict.
func conflictTimes(n int) func() error {
	remaining := n
	return func() error {
		if remaining > 0 {
			remaining--
			return fmt.Errorf("forced: %w", ledger.ErrConcurrentModification)
		}
		return nil
	}
}
