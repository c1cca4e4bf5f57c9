/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Amounts go out as JSON numbers with exactly two decimals (12.50). Incoming
  amounts may be a JSON number or a numeric string; the raw text is handed to
  ledger.ParseAmount so no precision is lost on the way in.

VALIDATION:
  Validation is done by the ledger package, not in DTOs. DTOs are pure data
  carriers.
*/
package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/who-owes-who/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CardDTO represents an active card.
type CardDTO struct {
	ID         string `json:"id"`
	Cardholder string `json:"cardholder"`
	Initials   string `json:"initials,omitempty"`
}

// MerchantDTO represents a merchant directory entry.
type MerchantDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TransactionDTO represents one purchase.
type TransactionDTO struct {
	ID           string      `json:"id"`
	MerchantName string      `json:"merchantName"`
	Amount       json.Number `json:"amount"`
	EnteredDate  string      `json:"enteredDate"`
	Archived     bool        `json:"archived"`
}

// CardTransactionsDTO groups a card's transactions.
type CardTransactionsDTO struct {
	CardID       string           `json:"cardId"`
	Cardholder   string           `json:"cardholder"`
	Transactions []TransactionDTO `json:"transactions"`
}

// RecordPurchaseRequest is the body of POST /transactions.
type RecordPurchaseRequest struct {
	MerchantName string          `json:"merchantName"`
	Amount       json.RawMessage `json:"amount"`
	CardID       string          `json:"cardId"`
}

// RecordedPurchaseDTO is the response to POST /transactions.
type RecordedPurchaseDTO struct {
	TransactionDTO
	CardID     string        `json:"cardId"`
	Settlement SettlementDTO `json:"settlement"`
}

// SettlementDTO summarizes a settlement pass.
type SettlementDTO struct {
	Settled  bool         `json:"settled"`
	Archived int          `json:"archived"`
	Balances []BalanceDTO `json:"balances,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// BalanceDTO is one cardholder's outstanding total.
type BalanceDTO struct {
	Cardholder string      `json:"cardholder"`
	CardIDs    []string    `json:"cardIds"`
	Total      json.Number `json:"total"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCardDTO(c ledger.Card) CardDTO {
	return CardDTO{ID: string(c.ID), Cardholder: c.Cardholder, Initials: c.Initials}
}

func toMerchantDTO(m ledger.Merchant) MerchantDTO {
	return MerchantDTO{ID: string(m.ID), Name: m.Name}
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(t.ID),
		MerchantName: t.MerchantName,
		Amount:       amountJSON(t.Amount),
		EnteredDate:  t.EnteredAt.UTC().Format(time.RFC3339Nano),
		Archived:     t.Archived,
	}
}

func toCardTransactionsDTO(ct ledger.CardTransactions) CardTransactionsDTO {
	txs := make([]TransactionDTO, len(ct.Transactions))
	for i, t := range ct.Transactions {
		txs[i] = toTransactionDTO(t)
	}
	return CardTransactionsDTO{
		CardID:       string(ct.Card.ID),
		Cardholder:   ct.Card.Cardholder,
		Transactions: txs,
	}
}

func toBalanceDTOs(balances []ledger.CardholderBalance) []BalanceDTO {
	out := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		ids := make([]string, len(b.CardIDs))
		for j, id := range b.CardIDs {
			ids[j] = string(id)
		}
		out[i] = BalanceDTO{Cardholder: b.Cardholder, CardIDs: ids, Total: amountJSON(b.Total)}
	}
	return out
}

func toSettlementDTO(r ledger.Result) SettlementDTO {
	return SettlementDTO{
		Settled:  r.Settled,
		Archived: r.Archived,
		Balances: toBalanceDTOs(r.Balances),
	}
}

func amountJSON(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(ledger.AmountPlaces))
}

// amountText returns the textual amount from a raw JSON value. Absent and
// null yield "", quoted strings are unquoted, anything else is passed through
// verbatim for ledger.ParseAmount to judge.
func amountText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return string(raw)
		}
		return s
	}
	return string(raw)
}
