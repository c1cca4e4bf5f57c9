/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

KEY TABLES:
  cards:        payment cards, one cardholder each (maintained out-of-band)
  merchants:    canonical merchant names, UNIQUE(name)
  transactions: purchases, append-only except for the archived flag

TRANSACTIONS:
  The database is opened with _txlock=immediate, so WithTx takes the write
  lock when it begins and every read inside fn comes from one snapshot.
  Contention surfaces as SQLITE_BUSY after the busy timeout. The store maps
  it, and a merchant UNIQUE violation, to ledger.ErrConcurrentModification so
  ledger.RunInTx retries the whole body. Failures to reach the database map
  to *ledger.StoreUnavailableError.

  Any error from fn rolls the transaction back; nothing fn wrote is kept.

INDEXES:
  - idx_transactions_card_active: per-card active listing (settlement hot path)
  - idx_transactions_card_entered: per-card history listing

MIGRATION:
  Schema is auto-migrated on New().

USAGE:
  store, err := sqlite.New("./ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/who-owes-who/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store         = (*Store)(nil)
	_ ledger.CardRegistrar = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.db.PingContext(ctx))
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		cardholder TEXT NOT NULL,
		initials TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS merchants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	-- Append-only apart from the archived flag
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		card_id TEXT NOT NULL REFERENCES cards(id),
		merchant_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		entered_at INTEGER NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_card_active
		ON transactions(card_id, archived);
	CREATE INDEX IF NOT EXISTS idx_transactions_card_entered
		ON transactions(card_id, entered_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CARD STORE
// =============================================================================

// SaveCard inserts a card or updates its cardholder, initials and active flag.
func (s *Store) SaveCard(ctx context.Context, card ledger.Card) error {
	if strings.TrimSpace(string(card.ID)) == "" {
		return fmt.Errorf("save card: id is required")
	}
	query := `
		INSERT INTO cards (id, cardholder, initials, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cardholder = excluded.cardholder,
			initials = excluded.initials,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, card.ID, card.Cardholder, card.Initials, card.Active)
	return mapError("save card", err)
}

func (s *Store) GetCard(ctx context.Context, id ledger.CardID) (*ledger.Card, error) {
	return getCard(ctx, s.db, id)
}

func (s *Store) ListCards(ctx context.Context, activeOnly bool) ([]ledger.Card, error) {
	return listCards(ctx, s.db, activeOnly)
}

func getCard(ctx context.Context, q querier, id ledger.CardID) (*ledger.Card, error) {
	var c ledger.Card
	err := q.QueryRowContext(ctx,
		"SELECT id, cardholder, initials, active FROM cards WHERE id = ?", id,
	).Scan(&c.ID, &c.Cardholder, &c.Initials, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get card", err)
	}
	return &c, nil
}

func listCards(ctx context.Context, q querier, activeOnly bool) ([]ledger.Card, error) {
	query := "SELECT id, cardholder, initials, active FROM cards"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("list cards", err)
	}
	defer rows.Close()

	cards := []ledger.Card{}
	for rows.Next() {
		var c ledger.Card
		if err := rows.Scan(&c.ID, &c.Cardholder, &c.Initials, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, mapError("list cards", rows.Err())
}

// =============================================================================
// MERCHANT STORE
// =============================================================================

func (s *Store) FindMerchant(ctx context.Context, name string) (*ledger.Merchant, error) {
	return findMerchant(ctx, s.db, name)
}

func (s *Store) ListMerchants(ctx context.Context) ([]ledger.Merchant, error) {
	return listMerchants(ctx, s.db)
}

func findMerchant(ctx context.Context, q querier, name string) (*ledger.Merchant, error) {
	var m ledger.Merchant
	err := q.QueryRowContext(ctx, "SELECT id, name FROM merchants WHERE name = ?", name).Scan(&m.ID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("find merchant", err)
	}
	return &m, nil
}

func listMerchants(ctx context.Context, q querier) ([]ledger.Merchant, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name FROM merchants ORDER BY name")
	if err != nil {
		return nil, mapError("list merchants", err)
	}
	defer rows.Close()

	merchants := []ledger.Merchant{}
	for rows.Next() {
		var m ledger.Merchant
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan merchant: %w", err)
		}
		merchants = append(merchants, m)
	}
	return merchants, mapError("list merchants", rows.Err())
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (s *Store) ListTransactions(ctx context.Context, cardID ledger.CardID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return listTransactions(ctx, s.db, cardID, filter)
}

func listTransactions(ctx context.Context, q querier, cardID ledger.CardID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := `
		SELECT id, card_id, merchant_name, amount, entered_at, archived
		FROM transactions
		WHERE card_id = ?`
	args := []any{cardID}
	if filter.ActiveOnly {
		query += " AND archived = 0"
	}
	if filter.Since != nil {
		query += " AND entered_at >= ?"
		args = append(args, toMicros(*filter.Since))
	}
	query += " ORDER BY entered_at ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list transactions", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, mapError("list transactions", rows.Err())
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		amount    string
		enteredAt int64
	)
	if err := rows.Scan(&tx.ID, &tx.CardID, &tx.MerchantName, &amount, &enteredAt, &tx.Archived); err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return tx, fmt.Errorf("transaction %s has malformed amount %q: %w", tx.ID, amount, err)
	}
	tx.Amount = d
	tx.EnteredAt = fromMicros(enteredAt)
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an error the
// transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return mapError("commit transaction", sqlTx.Commit())
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetCard(ctx context.Context, id ledger.CardID) (*ledger.Card, error) {
	return getCard(ctx, ts.tx, id)
}

func (ts *txStore) ListCards(ctx context.Context, activeOnly bool) ([]ledger.Card, error) {
	return listCards(ctx, ts.tx, activeOnly)
}

func (ts *txStore) FindMerchant(ctx context.Context, name string) (*ledger.Merchant, error) {
	return findMerchant(ctx, ts.tx, name)
}

func (ts *txStore) ListMerchants(ctx context.Context) ([]ledger.Merchant, error) {
	return listMerchants(ctx, ts.tx)
}

func (ts *txStore) ListTransactions(ctx context.Context, cardID ledger.CardID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, cardID, filter)
}

func (ts *txStore) CreateMerchant(ctx context.Context, m ledger.Merchant) error {
	_, err := ts.tx.ExecContext(ctx, "INSERT INTO merchants (id, name) VALUES (?, ?)", m.ID, m.Name)
	return mapError("create merchant", err)
}

func (ts *txStore) AppendTransaction(ctx context.Context, t ledger.Transaction) error {
	query := `
		INSERT INTO transactions (id, card_id, merchant_name, amount, entered_at, archived)
		VALUES (?, ?, ?, ?, ?, 0)
	`
	_, err := ts.tx.ExecContext(ctx, query,
		t.ID,
		t.CardID,
		t.MerchantName,
		t.Amount.StringFixed(ledger.AmountPlaces),
		toMicros(t.EnteredAt),
	)
	return mapError("append transaction", err)
}

func (ts *txStore) ArchiveTransaction(ctx context.Context, cardID ledger.CardID, id ledger.TransactionID) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE transactions SET archived = 1 WHERE id = ? AND card_id = ?", id, cardID)
	if err != nil {
		return mapError("archive transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("archive transaction", err)
	}
	if n == 0 {
		return fmt.Errorf("archive transaction: unknown transaction %s on card %s", id, cardID)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

// mapError translates driver errors into the ledger error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %w", op, ledger.ErrConcurrentModification, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return &ledger.StoreUnavailableError{Op: op, Err: err}
		}
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			// Another writer inserted the same key first; a retry re-reads it.
			return fmt.Errorf("%s: %w: %w", op, ledger.ErrConcurrentModification, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), "database is closed") {
		return &ledger.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
