// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/who-owes-who/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory optimistic engine (for testing/dev)
// =============================================================================

// Memory is an in-memory ledger.Store with snapshot isolation.
//
// Every commit gets a new version number and stamps the keys it wrote with
// it. A transaction remembers the version its snapshot was taken at and every
// key it read; at commit, any read key stamped with a newer version means the
// snapshot went stale and the commit is rejected with
// ledger.ErrConcurrentModification. Blind writes (an append never reads the
// card's log) do not conflict with each other.
//
// Keys:
//
//	card:<id>        one card
//	cards            the card listing
//	merchant:<name>  one merchant, by normalized name
//	merchants        the merchant listing
//	log:<cardID>     one card's transaction log
type Memory struct {
	mu      sync.Mutex
	state   memoryState
	version uint64
	stamps  map[string]uint64

	commitHook  func() error
	unavailable error
}

type memoryState struct {
	cards     map[ledger.CardID]ledger.Card
	merchants map[string]ledger.Merchant
	logs      map[ledger.CardID][]ledger.Transaction
}

var (
	_ ledger.Store         = (*Memory)(nil)
	_ ledger.CardRegistrar = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		state: memoryState{
			cards:     make(map[ledger.CardID]ledger.Card),
			merchants: make(map[string]ledger.Merchant),
			logs:      make(map[ledger.CardID][]ledger.Transaction),
		},
		stamps: make(map[string]uint64),
	}
}

// SetCommitHook installs fn to run at the start of every commit. A non-nil
// return rejects the commit with that error and nothing is written. Tests use
// it to force conflicts and failures; pass nil to remove it.
func (m *Memory) SetCommitHook(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitHook = fn
}

// SetUnavailable makes every operation fail with a StoreUnavailableError
// wrapping err, until called again with nil.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = err
}

func (m *Memory) checkAvailable(op string) error {
	if m.unavailable != nil {
		return &ledger.StoreUnavailableError{Op: op, Err: m.unavailable}
	}
	return nil
}

// Ping reports whether the store is reachable.
func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkAvailable("ping")
}

// SaveCard inserts or replaces a card. Cards are never deleted.
func (m *Memory) SaveCard(_ context.Context, card ledger.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable("save card"); err != nil {
		return err
	}
	if card.ID == "" {
		return fmt.Errorf("save card: id is required")
	}
	m.state.cards[card.ID] = card
	m.version++
	m.stamps[cardKey(card.ID)] = m.version
	m.stamps[keyCards] = m.version
	return nil
}

// =============================================================================
// PLAIN READS
// =============================================================================

func (m *Memory) GetCard(_ context.Context, id ledger.CardID) (*ledger.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable("get card"); err != nil {
		return nil, err
	}
	return m.state.getCard(id), nil
}

func (m *Memory) ListCards(_ context.Context, activeOnly bool) ([]ledger.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable("list cards"); err != nil {
		return nil, err
	}
	return m.state.listCards(activeOnly), nil
}

func (m *Memory) FindMerchant(_ context.Context, name string) (*ledger.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable("find merchant"); err != nil {
		return nil, err
	}
	return m.state.findMerchant(name), nil
}

func (m *Memory) ListMerchants(_ context.Context) ([]ledger.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable("list merchants"); err != nil {
		return nil, err
	}
	return m.state.listMerchants(), nil
}

func (m *Memory) ListTransactions(_ context.Context, cardID ledger.CardID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAvailable("list transactions"); err != nil {
		return nil, err
	}
	return m.state.listTransactions(cardID, filter), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a private snapshot and commits its writes if none
// of the keys it read changed in the meantime.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	if err := m.checkAvailable("begin"); err != nil {
		m.mu.Unlock()
		return err
	}
	view := &txView{
		snapshot: m.state.clone(),
		start:    m.version,
		reads:    make(map[string]struct{}),
		writes:   make(map[string]struct{}),
	}
	m.mu.Unlock()

	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(view)
}

func (m *Memory) commit(v *txView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAvailable("commit"); err != nil {
		return err
	}
	if m.commitHook != nil {
		if err := m.commitHook(); err != nil {
			return err
		}
	}
	for k := range v.reads {
		if m.stamps[k] > v.start {
			return fmt.Errorf("commit: %s changed: %w", k, ledger.ErrConcurrentModification)
		}
	}
	if len(v.ops) == 0 {
		return nil
	}

	// Validate every op against live state before applying any of them.
	for _, op := range v.ops {
		if err := op.check(&m.state); err != nil {
			return err
		}
	}
	for _, op := range v.ops {
		op.apply(&m.state)
	}
	m.version++
	for k := range v.writes {
		m.stamps[k] = m.version
	}
	return nil
}

type txView struct {
	snapshot memoryState
	start    uint64
	reads    map[string]struct{}
	writes   map[string]struct{}
	ops      []memoryOp
}

func (v *txView) read(keys ...string) {
	for _, k := range keys {
		v.reads[k] = struct{}{}
	}
}

func (v *txView) write(op memoryOp, keys ...string) error {
	if err := op.check(&v.snapshot); err != nil {
		return err
	}
	op.apply(&v.snapshot)
	v.ops = append(v.ops, op)
	for _, k := range keys {
		v.writes[k] = struct{}{}
	}
	return nil
}

func (v *txView) GetCard(_ context.Context, id ledger.CardID) (*ledger.Card, error) {
	v.read(cardKey(id))
	return v.snapshot.getCard(id), nil
}

func (v *txView) ListCards(_ context.Context, activeOnly bool) ([]ledger.Card, error) {
	v.read(keyCards)
	return v.snapshot.listCards(activeOnly), nil
}

func (v *txView) FindMerchant(_ context.Context, name string) (*ledger.Merchant, error) {
	v.read(merchantKey(name))
	return v.snapshot.findMerchant(name), nil
}

func (v *txView) ListMerchants(_ context.Context) ([]ledger.Merchant, error) {
	v.read(keyMerchants)
	return v.snapshot.listMerchants(), nil
}

func (v *txView) ListTransactions(_ context.Context, cardID ledger.CardID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	v.read(logKey(cardID))
	return v.snapshot.listTransactions(cardID, filter), nil
}

func (v *txView) CreateMerchant(_ context.Context, merchant ledger.Merchant) error {
	return v.write(createMerchantOp{merchant}, merchantKey(merchant.Name), keyMerchants)
}

func (v *txView) AppendTransaction(_ context.Context, t ledger.Transaction) error {
	return v.write(appendOp{t}, logKey(t.CardID))
}

func (v *txView) ArchiveTransaction(_ context.Context, cardID ledger.CardID, id ledger.TransactionID) error {
	return v.write(archiveOp{cardID: cardID, id: id}, logKey(cardID))
}

// =============================================================================
// BUFFERED WRITES
// =============================================================================

type memoryOp interface {
	check(s *memoryState) error
	apply(s *memoryState)
}

type createMerchantOp struct{ m ledger.Merchant }

func (op createMerchantOp) check(s *memoryState) error {
	if _, ok := s.merchants[op.m.Name]; ok {
		return fmt.Errorf("create merchant %q: %w", op.m.Name, ledger.ErrConcurrentModification)
	}
	return nil
}

func (op createMerchantOp) apply(s *memoryState) { s.merchants[op.m.Name] = op.m }

type appendOp struct{ t ledger.Transaction }

func (op appendOp) check(s *memoryState) error {
	if _, ok := s.cards[op.t.CardID]; !ok {
		return fmt.Errorf("append transaction: unknown card %s", op.t.CardID)
	}
	return nil
}

func (op appendOp) apply(s *memoryState) {
	s.logs[op.t.CardID] = append(s.logs[op.t.CardID], op.t)
}

type archiveOp struct {
	cardID ledger.CardID
	id     ledger.TransactionID
}

func (op archiveOp) check(s *memoryState) error {
	for _, t := range s.logs[op.cardID] {
		if t.ID == op.id {
			return nil
		}
	}
	return fmt.Errorf("archive transaction: unknown transaction %s on card %s", op.id, op.cardID)
}

func (op archiveOp) apply(s *memoryState) {
	log := s.logs[op.cardID]
	for i := range log {
		if log[i].ID == op.id {
			log[i].Archived = true
			return
		}
	}
}

// =============================================================================
// STATE HELPERS
// =============================================================================

const (
	keyCards     = "cards"
	keyMerchants = "merchants"
)

func cardKey(id ledger.CardID) string    { return "card:" + string(id) }
func merchantKey(name string) string     { return "merchant:" + name }
func logKey(cardID ledger.CardID) string { return "log:" + string(cardID) }

func (s memoryState) clone() memoryState {
	c := memoryState{
		cards:     make(map[ledger.CardID]ledger.Card, len(s.cards)),
		merchants: make(map[string]ledger.Merchant, len(s.merchants)),
		logs:      make(map[ledger.CardID][]ledger.Transaction, len(s.logs)),
	}
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.merchants {
		c.merchants[k] = v
	}
	for k, v := range s.logs {
		c.logs[k] = append([]ledger.Transaction(nil), v...)
	}
	return c
}

func (s memoryState) getCard(id ledger.CardID) *ledger.Card {
	c, ok := s.cards[id]
	if !ok {
		return nil
	}
	return &c
}

func (s memoryState) listCards(activeOnly bool) []ledger.Card {
	out := make([]ledger.Card, 0, len(s.cards))
	for _, c := range s.cards {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memoryState) findMerchant(name string) *ledger.Merchant {
	m, ok := s.merchants[name]
	if !ok {
		return nil
	}
	return &m
}

func (s memoryState) listMerchants() []ledger.Merchant {
	out := make([]ledger.Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s memoryState) listTransactions(cardID ledger.CardID, filter ledger.TransactionFilter) []ledger.Transaction {
	out := []ledger.Transaction{}
	for _, t := range s.logs[cardID] {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EnteredAt.Before(out[j].EnteredAt) })
	return out
}
