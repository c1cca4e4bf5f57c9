/*
store.go - Persistence contract for cards, merchants and transaction logs

PURPOSE:
  Defines the boundary between the settlement engine and the document store.
  The store owns all durable state; the engine only ever holds request-scoped
  copies of records.

KEY INTERFACES:
  Reader: consistent reads of the three collections
  Tx:     a Reader bound to one snapshot, plus buffered writes
  Store:  plain reads plus WithTx, the optimistic unit of work
  CardRegistrar: out-of-band card maintenance (seed, admin CLI)

OPTIMISTIC TRANSACTIONS:
  WithTx runs fn against one snapshot. Reads inside fn never see writes
  committed by others after the snapshot was taken. When fn returns nil the
  store commits all buffered writes atomically, unless something fn read or
  wrote was modified concurrently; then nothing is written and WithTx returns
  an error wrapping ErrConcurrentModification. If fn returns an error nothing
  is written.

  WithTx itself never retries. RunInTx (retry.go) owns the retry loop.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory engine with read-set validation
  - store/sqlite/sqlite.go: SQLite engine
*/
package ledger

import "context"

// Reader gives read access to the three collections.
type Reader interface {
	// GetCard returns the card, or nil if it does not exist.
	GetCard(ctx context.Context, id CardID) (*Card, error)

	// ListCards returns cards ordered by ID. activeOnly drops inactive cards.
	ListCards(ctx context.Context, activeOnly bool) ([]Card, error)

	// FindMerchant returns the merchant whose normalized name equals name,
	// or nil if there is none.
	FindMerchant(ctx context.Context, name string) (*Merchant, error)

	// ListMerchants returns every merchant ordered by name.
	ListMerchants(ctx context.Context) ([]Merchant, error)

	// ListTransactions returns the card's transactions matching filter,
	// ordered by EnteredAt.
	ListTransactions(ctx context.Context, cardID CardID, filter TransactionFilter) ([]Transaction, error)
}

// Tx is the view handed to a transactional body.
type Tx interface {
	Reader

	// CreateMerchant buffers a new merchant record.
	CreateMerchant(ctx context.Context, m Merchant) error

	// AppendTransaction buffers a new transaction on its card's log.
	AppendTransaction(ctx context.Context, t Transaction) error

	// ArchiveTransaction buffers Archived = true for one transaction.
	ArchiveTransaction(ctx context.Context, cardID CardID, id TransactionID) error
}

// Store is the handle every component receives.
type Store interface {
	Reader

	// WithTx executes fn within one optimistic transaction.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// CardRegistrar maintains card records. Cards are created out-of-band and
// never deleted; SaveCard inserts or replaces the mutable fields of a card.
type CardRegistrar interface {
	SaveCard(ctx context.Context, card Card) error
}
