/*
handlers.go - HTTP API handlers for the shared-expense ledger

ENDPOINTS:
  Cards:
    GET    /cards                          Active cards
    GET    /cards/{cardId}/transactions    One card's transactions

  Merchants:
    GET    /merchants                      Merchant directory

  Transactions:
    GET    /transactions                   Transactions of every active card
                                           ?active=true  non-archived only
                                           ?since=YYYY-MM-DD  entered on/after
    POST   /transactions                   Record a purchase (authorized)

  Settlement:
    GET    /balances                       Current per-cardholder totals
    POST   /settlements                    Run a settlement pass (authorized)

  Health:
    GET    /healthz                        Store probe

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, with the specific reason
  - 401: Missing or rejected bearer token
  - 413: Request body over 64 KiB
  - 404: Card not found, with the specific reason
  - 409: Transaction kept conflicting; retryable
  - 503: Store unavailable
  - 500: Anything else
  Store and conflict errors use generic messages; details go to the log.
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/who-owes-who/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	Store   ledger.Store
	logger  *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *ledger.Service, store ledger.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: service, Store: store, logger: logger}
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// ListCards returns the active cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Service.Queries().ActiveCards(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]CardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListMerchants returns the merchant directory.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	merchants, err := h.Service.Queries().Merchants(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]MerchantDTO, len(merchants))
	for i, m := range merchants {
		dtos[i] = toMerchantDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTransactions returns transactions grouped by active card.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, "")
}

// ListCardTransactions returns one card's transactions.
func (h *Handler) ListCardTransactions(w http.ResponseWriter, r *http.Request) {
	cardID := ledger.CardID(chi.URLParam(r, "cardId"))
	h.listTransactions(w, r, cardID)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request, cardID ledger.CardID) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "validation")
		return
	}

	groups, err := h.Service.Queries().Transactions(r.Context(), cardID, filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	if cardID != "" && len(groups) == 1 {
		writeJSON(w, http.StatusOK, toCardTransactionsDTO(groups[0]))
		return
	}
	dtos := make([]CardTransactionsDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toCardTransactionsDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalances returns the current tally without settling.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Service.Queries().Balances(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// Health probes the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.logger.Error("health probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// WRITE HANDLERS
// =============================================================================

const maxPurchaseBody = 64 << 10

// RecordPurchase appends a purchase and runs a settlement pass.
// POST /transactions
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPurchaseBody)

	var req RecordPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "validation")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", "validation")
		return
	}

	in := ledger.PurchaseInput{
		CardID:       req.CardID,
		MerchantName: req.MerchantName,
		Amount:       amountText(req.Amount),
	}
	receipt, err := h.Service.RecordPurchase(r.Context(), CallerFromContext(r.Context()), in)

	var settleErr *ledger.SettlementError
	switch {
	case errors.As(err, &settleErr) && receipt != nil:
		// The purchase is committed; only the settlement pass failed.
		writeJSON(w, http.StatusCreated, RecordedPurchaseDTO{
			TransactionDTO: toTransactionDTO(receipt.Transaction),
			CardID:         string(receipt.Transaction.CardID),
			Settlement:     SettlementDTO{Error: "settlement pending"},
		})
	case err != nil:
		h.writeLedgerError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, RecordedPurchaseDTO{
			TransactionDTO: toTransactionDTO(receipt.Transaction),
			CardID:         string(receipt.Transaction.CardID),
			Settlement:     toSettlementDTO(receipt.Settlement),
		})
	}
}

// Settle runs a settlement pass on demand.
// POST /settlements
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Settle(r.Context(), CallerFromContext(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(result))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseTransactionFilter(r *http.Request) (ledger.TransactionFilter, error) {
	var filter ledger.TransactionFilter
	q := r.URL.Query()

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("invalid active flag")
		}
		filter.ActiveOnly = active
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, errors.New("invalid since date (use YYYY-MM-DD)")
		}
		filter.Since = &since
	}
	return filter, nil
}

// writeLedgerError maps the ledger error taxonomy onto HTTP.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *ledger.ValidationError
		notFoundErr   *ledger.NotFoundError
	)
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Reason, "validation")
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Reason, "not_found")
	case ledger.IsRetryable(err):
		h.logger.Warn("request conflicted", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "The request conflicted with concurrent updates, please retry",
			Code:      "conflict",
			Retryable: true,
		})
	case ledger.IsStoreUnavailable(err):
		h.logger.Error("store unavailable", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable", "store_unavailable")
	default:
		h.logger.Error("request failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "There was a problem with the request", "internal")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
