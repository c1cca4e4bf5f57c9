/*
writer.go - Appends one purchase to a card's transaction log

TRANSACTIONAL BODY:
  Runs as one optimistic transaction, retried as a whole on conflict:
  1. Re-read the card. Missing or inactive -> NotFoundError, nothing written.
  2. Ensure the merchant exists (may stage one new merchant).
  3. Stage the transaction with Archived = false, EnteredAt = now.

  The new merchant and the transaction commit together or not at all. A failed
  attempt never leaves an orphan merchant behind.

  The card read is part of the read set, so a card deactivated concurrently
  forces a retry and the retry observes the deactivation.
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Writer appends purchases.
type Writer struct {
	store    Store
	registry *Registry
	policy   RetryPolicy
	logger   *slog.Logger

	now   func() time.Time
	newID func() TransactionID
}

// NewWriter creates a ledger writer over store.
func NewWriter(store Store, registry *Registry, policy RetryPolicy, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = discardLogger()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Writer{
		store:    store,
		registry: registry,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:    func() TransactionID { return TransactionID(uuid.NewString()) },
	}
}

// Append validates in and appends it. See ValidatePurchase for the order of
// validation failures.
func (w *Writer) Append(ctx context.Context, in PurchaseInput) (Transaction, error) {
	p, err := ValidatePurchase(in)
	if err != nil {
		return Transaction{}, err
	}
	return w.AppendValidated(ctx, p)
}

// AppendValidated appends an already validated purchase.
func (w *Writer) AppendValidated(ctx context.Context, p Purchase) (Transaction, error) {
	var created Transaction

	err := RunInTx(ctx, w.store, w.policy, w.logger, "append", func(tx Tx) error {
		card, err := tx.GetCard(ctx, p.CardID)
		if err != nil {
			return fmt.Errorf("read card: %w", err)
		}
		if card == nil {
			return cardNotFound(p.CardID)
		}
		if !card.Active {
			return cardInactive(p.CardID)
		}

		merchant, err := w.registry.Ensure(ctx, tx, p.MerchantName)
		if err != nil {
			return err
		}

		// Fresh id and timestamp per attempt; nothing from a failed attempt
		// survives.
		t := Transaction{
			ID:           w.newID(),
			CardID:       card.ID,
			MerchantName: merchant.Name,
			Amount:       p.Amount,
			EnteredAt:    w.now(),
		}
		if err := tx.AppendTransaction(ctx, t); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	w.logger.Info("transaction recorded",
		"transaction_id", created.ID,
		"card_id", created.CardID,
		"merchant", created.MerchantName,
		"amount", created.Amount.StringFixed(AmountPlaces),
	)
	return created, nil
}
