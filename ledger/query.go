package ledger

import (
	"context"
	"fmt"
	"strings"
)

// CardTransactions groups one card's transactions for listing.
type CardTransactions struct {
	Card         Card
	Transactions []Transaction
}

// Queries are the read-only projections. They need no transaction.
type Queries struct {
	store Reader
}

// NewQueries creates the read projections over r.
func NewQueries(r Reader) *Queries {
	return &Queries{store: r}
}

// ActiveCards lists the cards that participate in settlement.
func (q *Queries) ActiveCards(ctx context.Context) ([]Card, error) {
	return q.store.ListCards(ctx, true)
}

// Merchants lists the merchant directory.
func (q *Queries) Merchants(ctx context.Context) ([]Merchant, error) {
	return q.store.ListMerchants(ctx)
}

// Transactions lists transactions for cardID, or for every active card when
// cardID is empty.
func (q *Queries) Transactions(ctx context.Context, cardID CardID, filter TransactionFilter) ([]CardTransactions, error) {
	var cards []Card
	if id := CardID(strings.TrimSpace(string(cardID))); id != "" {
		card, err := q.store.GetCard(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read card: %w", err)
		}
		if card == nil {
			return nil, cardNotFound(id)
		}
		cards = []Card{*card}
	} else {
		active, err := q.store.ListCards(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list active cards: %w", err)
		}
		cards = active
	}

	out := make([]CardTransactions, 0, len(cards))
	for _, c := range cards {
		txs, err := q.store.ListTransactions(ctx, c.ID, filter)
		if err != nil {
			return nil, fmt.Errorf("list transactions for card %s: %w", c.ID, err)
		}
		out = append(out, CardTransactions{Card: c, Transactions: txs})
	}
	return out, nil
}

// Balances returns the current per-cardholder tally without settling.
func (q *Queries) Balances(ctx context.Context) ([]CardholderBalance, error) {
	t, err := BuildTally(ctx, q.store)
	if err != nil {
		return nil, err
	}
	return t.Balances(), nil
}
