package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeMerchantName collapses whitespace runs to a single space and trims
// the ends. "  Coffee   Shop " becomes "Coffee Shop".
func NormalizeMerchantName(name string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(name, " "))
}

// Registry keeps the merchant directory free of duplicates.
//
// Ensure must run inside the caller's transaction: the lookup and the insert
// are then validated together at commit, so two concurrent creators of the
// same name cannot both commit. The loser retries and finds the winner's
// record.
type Registry struct {
	logger *slog.Logger
	newID  func() MerchantID
}

// NewRegistry creates a merchant registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{
		logger: logger,
		newID:  func() MerchantID { return MerchantID(uuid.NewString()) },
	}
}

// Ensure returns the merchant for name, creating it within tx if needed.
func (r *Registry) Ensure(ctx context.Context, tx Tx, name string) (Merchant, error) {
	normalized := NormalizeMerchantName(name)
	if normalized == "" {
		return Merchant{}, &ValidationError{Reason: ReasonMissingMerchant}
	}

	existing, err := tx.FindMerchant(ctx, normalized)
	if err != nil {
		return Merchant{}, fmt.Errorf("find merchant: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}

	m := Merchant{ID: r.newID(), Name: normalized}
	if err := tx.CreateMerchant(ctx, m); err != nil {
		return Merchant{}, fmt.Errorf("create merchant: %w", err)
	}
	r.logger.Debug("merchant staged", "merchant_id", m.ID, "name", m.Name)
	return m, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
