package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PurchaseInput is a raw "record purchase" request.
//
// Amount is kept as text so that the exact decimal the client sent is what
// gets rounded. An empty Amount means the field was absent.
type PurchaseInput struct {
	CardID       string
	MerchantName string
	Amount       string
}

// Purchase is a validated PurchaseInput.
type Purchase struct {
	CardID       CardID
	MerchantName string          // normalized
	Amount       decimal.Decimal // rounded to AmountPlaces, > 0
}

// ValidatePurchase checks in in a fixed order and returns the first failure
// as a *ValidationError. Callers must return on error before touching the
// store.
func ValidatePurchase(in PurchaseInput) (Purchase, error) {
	merchant := NormalizeMerchantName(in.MerchantName)
	if merchant == "" {
		return Purchase{}, &ValidationError{Reason: ReasonMissingMerchant}
	}

	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Purchase{}, err
	}

	cardID := strings.TrimSpace(in.CardID)
	if cardID == "" {
		return Purchase{}, &ValidationError{Reason: ReasonMissingCardID}
	}

	return Purchase{
		CardID:       CardID(cardID),
		MerchantName: merchant,
		Amount:       amount,
	}, nil
}

// Amount input bounds. Rounding rescales to 10^|exponent|, so the exponent
// is checked before any arithmetic happens.
const (
	maxAmountText     = 64
	minAmountExponent = -maxAmountText
	maxAmountExponent = 12
)

// MaxAmount is the exclusive upper bound on the magnitude of an amount.
var MaxAmount = decimal.New(1, maxAmountExponent)

// ParseAmount parses a textual amount, rounds it half away from zero to two
// places and requires the rounded value to be positive. "19.995" yields
// 20.00; "0.004" rounds to zero and is rejected. Text longer than 64 bytes
// and magnitudes of MaxAmount or more are not numbers as far as the ledger
// is concerned.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, &ValidationError{Reason: ReasonMissingAmount}
	}
	if len(raw) > maxAmountText {
		return decimal.Decimal{}, &ValidationError{Reason: ReasonAmountNotANumber}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Reason: ReasonAmountNotANumber}
	}
	if exp := d.Exponent(); exp < minAmountExponent || exp > maxAmountExponent ||
		d.NumDigits() > maxAmountText || d.Abs().GreaterThanOrEqual(MaxAmount) {
		return decimal.Decimal{}, &ValidationError{Reason: ReasonAmountNotANumber}
	}

	d = RoundAmount(d)
	if !d.IsPositive() {
		return decimal.Decimal{}, &ValidationError{Reason: ReasonAmountNotPositive}
	}
	return d, nil
}
