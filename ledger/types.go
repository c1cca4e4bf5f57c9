/*
Package ledger provides the shared-expense settlement engine.

PURPOSE:
  Cardholders log purchases made on shared payment cards. Every purchase is
  appended to the owning card's transaction log, the merchant directory is
  deduplicated as new names appear, and after each purchase the engine checks
  whether every cardholder now owes the same amount. When they do, the group
  is settled and every active transaction is archived in one unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Card: a payment instrument assigned to one cardholder
  - Merchant: canonical record for a distinct payee name
  - Transaction: one purchase attributed to one card
  - Amount: fixed-point money, always two decimal places

DESIGN PRINCIPLES:
  1. Precision: amounts are decimal.Decimal, never float64
  2. Append-only: transactions are never edited or deleted; Archived is the
     only field that changes, and only the settlement evaluator changes it
  3. Explicit state: components receive a Store handle, there are no globals

SEE ALSO:
  - store.go: persistence contract and optimistic transactions
  - writer.go: purchase append
  - settlement.go: balance tally and archive
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CardID string
type MerchantID string
type TransactionID string

// =============================================================================
// AMOUNT - Money with exactly two decimal places
// =============================================================================

// AmountPlaces is the fixed scale of every persisted amount.
const AmountPlaces = 2

// RoundAmount rounds half away from zero to AmountPlaces.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// MustAmount parses s and rounds it. Panics on malformed input; meant for
// fixtures and constants.
func MustAmount(s string) decimal.Decimal {
	return RoundAmount(decimal.RequireFromString(s))
}

// =============================================================================
// RECORDS
// =============================================================================

// Card is one shared payment instrument assigned to one cardholder.
// Only active cards take part in tallying and accept new purchases.
type Card struct {
	ID         CardID
	Cardholder string
	Initials   string
	Active     bool
}

// Merchant is the canonical record for a normalized payee name.
type Merchant struct {
	ID   MerchantID
	Name string
}

// Transaction is one purchase on one card.
type Transaction struct {
	ID           TransactionID
	CardID       CardID
	MerchantName string // denormalized copy, not a reference
	Amount       decimal.Decimal
	EnteredAt    time.Time
	Archived     bool
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	ActiveOnly bool       // only Archived == false
	Since      *time.Time // only EnteredAt on or after Since
}

// Match reports whether tx passes the filter.
func (f TransactionFilter) Match(tx Transaction) bool {
	if f.ActiveOnly && tx.Archived {
		return false
	}
	if f.Since != nil && tx.EnteredAt.Before(*f.Since) {
		return false
	}
	return true
}
