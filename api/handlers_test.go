/*
handlers_test.go - HTTP surface tests

Tests for:
- Record purchase: status codes, validation reasons, settlement in the receipt
- Authorization gate on mutating routes
- Read routes: cards, merchants, transactions, balances, health
- Error mapping: not found, conflict, store unavailable
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/who-owes-who/ledger"
	"github.com/warp/who-owes-who/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const validToken = "valid-token"

// MockAuthorizer is a mock implementation of Authorizer for testing
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, token string) (ledger.Caller, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(ledger.Caller), args.Error(1)
}

type testServer struct {
	router http.Handler
	store  *store.Memory
	gate   *MockAuthorizer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveCard(ctx, ledger.Card{ID: "card-alice", Cardholder: "Alice", Initials: "AL", Active: true}))
	require.NoError(t, mem.SaveCard(ctx, ledger.Card{ID: "card-bob", Cardholder: "Bob", Initials: "BO", Active: true}))
	require.NoError(t, mem.SaveCard(ctx, ledger.Card{ID: "card-old", Cardholder: "Carol", Active: false}))

	gate := new(MockAuthorizer)
	gate.On("Authorize", mock.Anything, validToken).Return(ledger.Caller{ID: "user-1", Authorized: true}, nil).Maybe()
	gate.On("Authorize", mock.Anything, mock.Anything).Return(ledger.Caller{}, errors.New("invalid bearer token")).Maybe()

	svc := ledger.NewService(mem, ledger.Config{Retry: ledger.DefaultRetryPolicy(), Tolerance: decimal.Zero}, nil)
	h := NewHandler(svc, mem, nil)
	return &testServer{
		router: NewRouter(h, gate, RouterOptions{AllowedOrigins: []string{"http://localhost:5173"}}),
		store:  mem,
		gate:   gate,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// RECORD PURCHASE
// =============================================================================

func TestRecordPurchase_Created(t *testing.T) {
	// GIVEN: An authorized caller
	ts := newTestServer(t)

	// WHEN: Posting a purchase with a numeric amount
	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		`{"merchantName":"  Corner  Cafe ","amount":19.995,"cardId":"card-alice"}`)

	// THEN: 201 with the rounded amount and an unsettled tally
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[RecordedPurchaseDTO](t, rec)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "card-alice", got.CardID)
	assert.Equal(t, "Corner Cafe", got.MerchantName)
	assert.Equal(t, json.Number("20.00"), got.Amount)
	assert.False(t, got.Archived)
	assert.False(t, got.Settlement.Settled)
	assert.Len(t, got.Settlement.Balances, 2)
}

func TestRecordPurchase_SettlesGroup(t *testing.T) {
	// GIVEN: Alice has spent 12.50
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		map[string]any{"merchantName": "Grocer", "amount": "12.50", "cardId": "card-alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: Bob matches her total
	rec = ts.do(t, http.MethodPost, "/transactions", validToken,
		map[string]any{"merchantName": "Grocer", "amount": "12.5", "cardId": "card-bob"})

	// THEN: The receipt reports the settlement and both purchases are archived
	require.Equal(t, http.StatusCreated, rec.Code)
	got := decode[RecordedPurchaseDTO](t, rec)
	assert.True(t, got.Settlement.Settled)
	assert.Equal(t, 2, got.Settlement.Archived)

	rec = ts.do(t, http.MethodGet, "/transactions?active=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, group := range decode[[]CardTransactionsDTO](t, rec) {
		assert.Empty(t, group.Transactions)
	}
}

func TestRecordPurchase_ValidationReasons(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"missing merchant", `{"amount":"1","cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonMissingMerchant},
		{"missing amount", `{"merchantName":"Shop","cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonMissingAmount},
		{"null amount", `{"merchantName":"Shop","amount":null,"cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonMissingAmount},
		{"amount not a number", `{"merchantName":"Shop","amount":"ten","cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonAmountNotANumber},
		{"boolean amount", `{"merchantName":"Shop","amount":true,"cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonAmountNotANumber},
		{"zero amount", `{"merchantName":"Shop","amount":0,"cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonAmountNotPositive},
		{"sub-cent amount", `{"merchantName":"Shop","amount":"0.004","cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonAmountNotPositive},
		{"tiny exponent", `{"merchantName":"Shop","amount":1e-2000000000,"cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonAmountNotANumber},
		{"huge amount", `{"merchantName":"Shop","amount":"1e20000000","cardId":"card-alice"}`, http.StatusBadRequest, ledger.ReasonAmountNotANumber},
		{"missing card", `{"merchantName":"Shop","amount":"1"}`, http.StatusBadRequest, ledger.ReasonMissingCardID},
		{"unknown card", `{"merchantName":"Shop","amount":"1","cardId":"card-nope"}`, http.StatusNotFound, "card does not exist"},
		{"inactive card", `{"merchantName":"Shop","amount":"1","cardId":"card-old"}`, http.StatusNotFound, "card is not active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/transactions", validToken, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.reason, decode[ErrorResponse](t, rec).Error)
		})
	}

	// No failed request left a merchant behind
	rec := ts.do(t, http.MethodGet, "/merchants", "", nil)
	assert.Empty(t, decode[[]MerchantDTO](t, rec))
}

func TestRecordPurchase_MalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/transactions", validToken, `{"merchantName":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordPurchase_OversizedBody(t *testing.T) {
	// GIVEN: A body padded well past the request limit
	ts := newTestServer(t)
	body := `{"merchantName":"` + strings.Repeat("a", maxPurchaseBody) + `","amount":"1","cardId":"card-alice"}`

	// WHEN: Posting it
	rec := ts.do(t, http.MethodPost, "/transactions", validToken, body)

	// THEN: It is refused before anything is recorded
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	txs, err := ts.store.ListTransactions(context.Background(), "card-alice", ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecordPurchase_Unauthorized(t *testing.T) {
	ts := newTestServer(t)
	body := `{"merchantName":"Shop","amount":"1","cardId":"card-alice"}`

	for _, token := range []string{"", "forged"} {
		rec := ts.do(t, http.MethodPost, "/transactions", token, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	txs, err := ts.store.ListTransactions(context.Background(), "card-alice", ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecordPurchase_ConflictIsRetryable(t *testing.T) {
	// GIVEN: A store whose commits always conflict
	ts := newTestServer(t)
	ts.store.SetCommitHook(func() error { return ledger.ErrConcurrentModification })

	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		`{"merchantName":"Shop","amount":"1","cardId":"card-alice"}`)

	// THEN: 409 with a generic retryable error
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.True(t, resp.Retryable)
	assert.Equal(t, "conflict", resp.Code)

	// AND: Neither the merchant nor the purchase was stored
	rec = ts.do(t, http.MethodGet, "/merchants", "", nil)
	assert.Empty(t, decode[[]MerchantDTO](t, rec))
	txs, err := ts.store.ListTransactions(context.Background(), "card-alice", ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecordPurchase_SettlementFailureStillCreated(t *testing.T) {
	// GIVEN: The first commit (the append) succeeds, later ones conflict
	ts := newTestServer(t)
	commits := 0
	ts.store.SetCommitHook(func() error {
		commits++
		if commits > 1 {
			return ledger.ErrConcurrentModification
		}
		return nil
	})

	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		`{"merchantName":"Shop","amount":"1","cardId":"card-alice"}`)

	// THEN: The purchase is reported as created with a pending settlement
	require.Equal(t, http.StatusCreated, rec.Code)
	got := decode[RecordedPurchaseDTO](t, rec)
	assert.NotEmpty(t, got.ID)
	assert.NotEmpty(t, got.Settlement.Error)
}

func TestRecordPurchase_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.store.SetUnavailable(errors.New("connection refused"))

	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		`{"merchantName":"Shop","amount":"1","cardId":"card-alice"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestSettle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/settlements", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/settlements", validToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[SettlementDTO](t, rec)
	assert.True(t, got.Settled)
	assert.Equal(t, 0, got.Archived)
}

// =============================================================================
// READ ROUTES
// =============================================================================

func TestListCards_ActiveOnly(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/cards", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	cards := decode[[]CardDTO](t, rec)
	require.Len(t, cards, 2)
	assert.Equal(t, "card-alice", cards[0].ID)
	assert.Equal(t, "AL", cards[0].Initials)
}

func TestListCardTransactions(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		`{"merchantName":"Shop","amount":"3","cardId":"card-alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/cards/card-alice/transactions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[CardTransactionsDTO](t, rec)
	assert.Equal(t, "Alice", got.Cardholder)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, json.Number("3.00"), got.Transactions[0].Amount)

	rec = ts.do(t, http.MethodGet, "/cards/card-nope/transactions", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/cards/card-alice/transactions?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/cards/card-alice/transactions?since=2999-01-01", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CardTransactionsDTO](t, rec).Transactions)
}

func TestGetBalances(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/transactions", validToken,
		`{"merchantName":"Shop","amount":"7.25","cardId":"card-bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/balances", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[[]BalanceDTO](t, rec)
	require.Len(t, balances, 2)
	assert.Equal(t, "Alice", balances[0].Cardholder)
	assert.Equal(t, json.Number("0.00"), balances[0].Total)
	assert.Equal(t, json.Number("7.25"), balances[1].Total)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.store.SetUnavailable(errors.New("down"))
	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
