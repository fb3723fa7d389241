/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Durable storage for customers and their transaction chains. The same
  patterns apply to PostgreSQL (see store/postgres) - only SQL dialect
  differences.

KEY TABLES:
  customers:    one row per billable party, carrying the cached chain
                tail balance and the chain_version used by the optimistic
                commit check
  transactions: the balance chain; (customer_id, sequence) is unique and
                sequence order is the authoritative chain order

NUMERIC STORAGE:
  Monetary columns are TEXT holding fixed-point decimal strings. SQLite
  REAL columns would reintroduce the float drift the engine exists to
  prevent.

WAL MODE:
  The database is opened with WAL so readers don't block the single
  writer and crash recovery is cleaner.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/khata/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		balance TEXT NOT NULL DEFAULT '0',
		chain_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(name);
	CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		sequence INTEGER NOT NULL,
		bill_number TEXT,
		date TEXT NOT NULL,
		line_items_json TEXT NOT NULL,
		items_total TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		upi_type TEXT,
		bank_name TEXT,
		check_number TEXT,
		cash_amount TEXT,
		gpay_amount TEXT,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Chain ordering key. One sequence slot per customer, forever.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_customer_sequence
		ON transactions(customer_id, sequence);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer_date
		ON transactions(customer_id, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, db dbtx, id ledger.CustomerID) (ledger.Customer, error) {
	var (
		c         ledger.Customer
		balance   string
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, phone, balance, chain_version, created_at FROM customers WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &c.Phone, &balance, &c.ChainVersion, &createdAt)

	if err == sql.ErrNoRows {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}

	c.Balance = ledger.MustDecimal(balance)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return c, nil
}

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, db dbtx, c ledger.Customer) error {
	query := `
		INSERT INTO customers (id, name, phone, balance, chain_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone
	`
	_, err := db.ExecContext(ctx, query,
		c.ID, c.Name, c.Phone,
		c.Balance.StringFixed(2),
		c.ChainVersion,
		c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, s.db)
}

func listCustomers(ctx context.Context, db dbtx) ([]ledger.Customer, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, phone, balance, chain_version, created_at FROM customers ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		var (
			c         ledger.Customer
			balance   string
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &balance, &c.ChainVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.Balance = ledger.MustDecimal(balance)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) UpdateCustomerBalance(ctx context.Context, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	return updateCustomerBalance(ctx, s.db, id, balance, expectedVersion)
}

func updateCustomerBalance(ctx context.Context, db dbtx, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	res, err := db.ExecContext(ctx,
		"UPDATE customers SET balance = ?, chain_version = chain_version + 1 WHERE id = ? AND chain_version = ?",
		balance.StringFixed(2), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n == 0 {
		current, err := getCustomer(ctx, db, id)
		if err != nil {
			return err
		}
		return &ledger.ConflictError{CustomerID: id, Expected: expectedVersion, Actual: current.ChainVersion}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const txColumns = `id, customer_id, sequence, bill_number, date, line_items_json,
	items_total, paid_amount, payment_method, upi_type, bank_name, check_number,
	cash_amount, gpay_amount, balance_before, balance_after, created_at`

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) (ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, db,
		"SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(txs) == 0 {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, s.db, tx)
}

func insertTransaction(ctx context.Context, db dbtx, tx ledger.Transaction) error {
	itemsJSON, err := json.Marshal(tx.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	query := `
		INSERT INTO transactions (` + txColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		tx.ID, tx.CustomerID, tx.Sequence,
		nullString(tx.BillNumber),
		tx.Date.UTC().Format(time.RFC3339),
		string(itemsJSON),
		tx.ItemsTotal.StringFixed(2),
		tx.PaidAmount.StringFixed(2),
		tx.Method,
		nullString(tx.Detail.UPIType),
		nullString(tx.Detail.BankName),
		nullString(tx.Detail.CheckNumber),
		nullDecimal(tx.Detail.CashAmount),
		nullDecimal(tx.Detail.GpayAmount),
		tx.BalanceBefore.StringFixed(2),
		tx.BalanceAfter.StringFixed(2),
		tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &ledger.ConflictError{CustomerID: tx.CustomerID}
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	return updateTransaction(ctx, s.db, tx)
}

func updateTransaction(ctx context.Context, db dbtx, tx ledger.Transaction) error {
	itemsJSON, err := json.Marshal(tx.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	// sequence is immutable and deliberately absent from the SET list.
	query := `
		UPDATE transactions SET
			date = ?, line_items_json = ?, items_total = ?, paid_amount = ?,
			payment_method = ?, upi_type = ?, bank_name = ?, check_number = ?,
			cash_amount = ?, gpay_amount = ?, balance_before = ?, balance_after = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, query,
		tx.Date.UTC().Format(time.RFC3339),
		string(itemsJSON),
		tx.ItemsTotal.StringFixed(2),
		tx.PaidAmount.StringFixed(2),
		tx.Method,
		nullString(tx.Detail.UPIType),
		nullString(tx.Detail.BankName),
		nullString(tx.Detail.CheckNumber),
		nullDecimal(tx.Detail.CashAmount),
		nullDecimal(tx.Detail.GpayAmount),
		tx.BalanceBefore.StringFixed(2),
		tx.BalanceAfter.StringFixed(2),
		tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return deleteTransaction(ctx, s.db, id)
}

func deleteTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactionsByCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.Transaction, error) {
	return listTransactionsByCustomer(ctx, s.db, id)
}

func listTransactionsByCustomer(ctx context.Context, db dbtx, id ledger.CustomerID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, db,
		"SELECT "+txColumns+" FROM transactions WHERE customer_id = ? ORDER BY sequence ASC", id)
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx            ledger.Transaction
		billNumber    sql.NullString
		date          string
		itemsJSON     string
		itemsTotal    string
		paidAmount    string
		upiType       sql.NullString
		bankName      sql.NullString
		checkNumber   sql.NullString
		cashAmount    sql.NullString
		gpayAmount    sql.NullString
		balanceBefore string
		balanceAfter  string
		createdAt     string
	)

	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &tx.Sequence, &billNumber, &date, &itemsJSON,
		&itemsTotal, &paidAmount, &tx.Method, &upiType, &bankName, &checkNumber,
		&cashAmount, &gpayAmount, &balanceBefore, &balanceAfter, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &tx.LineItems); err != nil {
		return tx, fmt.Errorf("failed to decode line items: %w", err)
	}

	tx.BillNumber = billNumber.String
	tx.Date, _ = time.Parse(time.RFC3339, date)
	tx.ItemsTotal = ledger.MustDecimal(itemsTotal)
	tx.PaidAmount = ledger.MustDecimal(paidAmount)
	tx.Detail = ledger.PaymentDetail{
		UPIType:     upiType.String,
		BankName:    bankName.String,
		CheckNumber: checkNumber.String,
		CashAmount:  decimalPtr(cashAmount),
		GpayAmount:  decimalPtr(gpayAmount),
	}
	tx.BalanceBefore = ledger.MustDecimal(balanceBefore)
	tx.BalanceAfter = ledger.MustDecimal(balanceAfter)
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. All reads and writes
// inside fn go through the same *sql.Tx, so a cascade commits atomically.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	return getCustomer(ctx, ts.tx, id)
}

func (ts *txStore) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, ts.tx, c)
}

func (ts *txStore) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, ts.tx)
}

func (ts *txStore) UpdateCustomerBalance(ctx context.Context, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	return updateCustomerBalance(ctx, ts.tx, id, balance, expectedVersion)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	return updateTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return deleteTransaction(ctx, ts.tx, id)
}

func (ts *txStore) ListTransactionsByCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.Transaction, error) {
	return listTransactionsByCustomer(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.StringFixed(2), Valid: true}
}

func decimalPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d := ledger.MustDecimal(s.String)
	return &d
}

var _ ledger.TxStore = (*Store)(nil)
var _ ledger.Store = (*txStore)(nil)
