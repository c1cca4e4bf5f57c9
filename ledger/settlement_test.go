package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/who-owes-who/ledger"
)

func newTestEvaluator(s ledger.Store, tolerance string) *ledger.Evaluator {
	return ledger.NewEvaluator(s, ledger.DefaultRetryPolicy(), decimal.RequireFromString(tolerance), nil)
}

func mustAppend(t *testing.T, w *ledger.Writer, cardID ledger.CardID, amount string) ledger.Transaction {
	t.Helper()
	tx, err := w.Append(context.Background(), purchase(cardID, "Shop", amount))
	require.NoError(t, err)
	return tx
}

// =============================================================================
// SETTLEMENT SCENARIOS
// =============================================================================

func TestEvaluate_EqualTotalsArchiveEverything(t *testing.T) {
	// GIVEN: Alice and Bob have each spent 10.00
	s := newTestStore(t, cardAlice, cardBob)
	w := ledger.NewWriter(s, nil, ledger.DefaultRetryPolicy(), nil)
	mustAppend(t, w, cardAlice.ID, "10.00")
	mustAppend(t, w, cardBob.ID, "4.00")
	mustAppend(t, w, cardBob.ID, "6.00")

	// WHEN: Evaluating settlement
	res, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	// THEN: The group is settled and all three transactions are archived
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 3, res.Archived)
	require.Len(t, res.Balances, 2)
	assert.Equal(t, "Alice", res.Balances[0].Cardholder)
	assert.Equal(t, "Bob", res.Balances[1].Cardholder)
	assert.True(t, res.Balances[0].Total.Equal(decimal.RequireFromString("10")))

	assert.Empty(t, activeTransactions(t, s, cardAlice.ID))
	assert.Empty(t, activeTransactions(t, s, cardBob.ID))
	// Archived, never deleted
	assert.Len(t, allTransactions(t, s, cardBob.ID), 2)
}

func TestEvaluate_UnequalTotalsChangeNothing(t *testing.T) {
	// GIVEN: Alice spent 10.00, Bob 9.99
	s := newTestStore(t, cardAlice, cardBob)
	w := ledger.NewWriter(s, nil, ledger.DefaultRetryPolicy(), nil)
	mustAppend(t, w, cardAlice.ID, "10.00")
	mustAppend(t, w, cardBob.ID, "9.99")

	// WHEN: Evaluating with exact equality
	res, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	// THEN: Not settled and nothing archived
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.Equal(t, 0, res.Archived)
	assert.Len(t, activeTransactions(t, s, cardAlice.ID), 1)
	assert.Len(t, activeTransactions(t, s, cardBob.ID), 1)
}

func TestEvaluate_Tolerance(t *testing.T) {
	// GIVEN: Totals one cent apart
	s := newTestStore(t, cardAlice, cardBob)
	w := ledger.NewWriter(s, nil, ledger.DefaultRetryPolicy(), nil)
	mustAppend(t, w, cardAlice.ID, "10.00")
	mustAppend(t, w, cardBob.ID, "9.99")

	// WHEN: Evaluating with a one cent tolerance
	res, err := newTestEvaluator(s, "0.01").Evaluate(context.Background())

	// THEN: The difference is accepted
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 2, res.Archived)
}

func TestEvaluate_NoActiveCards(t *testing.T) {
	s := newTestStore(t)

	res, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.Empty(t, res.Balances)
}

func TestEvaluate_CardsWithoutPurchasesAreSettledAtZero(t *testing.T) {
	// GIVEN: Two cardholders who have not spent anything
	s := newTestStore(t, cardAlice, cardBob)

	res, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	// THEN: Equal zero totals count as settled, with nothing to archive
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 0, res.Archived)
}

func TestEvaluate_GroupsCardsByCardholder(t *testing.T) {
	// GIVEN: Alice holds two cards, Bob one
	aliceSecond := ledger.Card{ID: "card-alice-2", Cardholder: "Alice", Active: true}
	s := newTestStore(t, cardAlice, aliceSecond, cardBob)
	w := ledger.NewWriter(s, nil, ledger.DefaultRetryPolicy(), nil)
	mustAppend(t, w, cardAlice.ID, "3.00")
	mustAppend(t, w, aliceSecond.ID, "7.00")
	mustAppend(t, w, cardBob.ID, "10.00")

	// WHEN: Evaluating
	res, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	// THEN: Alice's cards are summed together and the group settles
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 3, res.Archived)
	require.Len(t, res.Balances, 2)
	assert.ElementsMatch(t, []ledger.CardID{cardAlice.ID, aliceSecond.ID}, res.Balances[0].CardIDs)
}

func TestEvaluate_InactiveCardsAreIgnored(t *testing.T) {
	// GIVEN: An inactive card with old unarchived history
	retired := ledger.Card{ID: "card-retired", Cardholder: "Carol", Active: true}
	s := newTestStore(t, cardAlice, cardBob, retired)
	w := ledger.NewWriter(s, nil, ledger.DefaultRetryPolicy(), nil)
	mustAppend(t, w, retired.ID, "99.00")
	retired.Active = false
	require.NoError(t, s.SaveCard(context.Background(), retired))
	mustAppend(t, w, cardAlice.ID, "5.00")
	mustAppend(t, w, cardBob.ID, "5.00")

	// WHEN: Evaluating
	res, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	// THEN: Carol is not tallied and her transaction stays untouched
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, 2, res.Archived)
	assert.Len(t, activeTransactions(t, s, retired.ID), 1)
}

func TestEvaluate_OnlyCountsActiveTransactions(t *testing.T) {
	// GIVEN: A settled round followed by a new unequal purchase
	s := newTestStore(t, cardAlice, cardBob)
	w := ledger.NewWriter(s, nil, ledger.DefaultRetryPolicy(), nil)
	ev := newTestEvaluator(s, "0")
	mustAppend(t, w, cardAlice.ID, "10.00")
	mustAppend(t, w, cardBob.ID, "10.00")
	_, err := ev.Evaluate(context.Background())
	require.NoError(t, err)

	mustAppend(t, w, cardAlice.ID, "2.50")

	// WHEN: Evaluating again
	res, err := ev.Evaluate(context.Background())

	// THEN: Only the new purchase counts
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.True(t, res.Balances[0].Total.Equal(decimal.RequireFromString("2.50")))
	assert.True(t, res.Balances[1].Total.IsZero())
}

func TestEvaluate_StoreUnavailable(t *testing.T) {
	s := newTestStore(t, cardAlice, cardBob)
	s.SetUnavailable(errors.New("connection refused"))

	_, err := newTestEvaluator(s, "0").Evaluate(context.Background())

	assert.True(t, ledger.IsStoreUnavailable(err))
}

func TestEvaluate_ConcurrentAppendsAreNeverArchivedUncounted(t *testing.T) {
	// GIVEN: Purchases racing with settlement passes
	s := newTestStore(t, cardAlice, cardBob)
	policy := testPolicy(100)
	w := ledger.NewWriter(s, nil, policy, nil)
	ev := ledger.NewEvaluator(s, policy, decimal.Zero, nil)
	ctx := context.Background()

	const rounds = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	archived := 0

	for i := 0; i < rounds; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := w.Append(ctx, purchase(cardAlice.ID, "Shop", "1.00"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := w.Append(ctx, purchase(cardBob.ID, "Shop", "1.00"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			res, err := ev.Evaluate(ctx)
			if assert.NoError(t, err) {
				mu.Lock()
				archived += res.Archived
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// WHEN: A final pass runs after all purchases
	res, err := ev.Evaluate(ctx)
	require.NoError(t, err)
	archived += res.Archived

	// THEN: Totals were equal at the end, so everything was archived exactly once
	assert.True(t, res.Settled)
	assert.Equal(t, 2*rounds, archived)
	assert.Empty(t, activeTransactions(t, s, cardAlice.ID))
	assert.Empty(t, activeTransactions(t, s, cardBob.ID))
}
