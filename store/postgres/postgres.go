/*
Package postgres provides a PostgreSQL-backed implementation of
ledger.TxStore via lib/pq. Semantics mirror store/sqlite; only the SQL
dialect differs ($n placeholders, native BOOLEAN/BIGINT, NUMERIC money
columns scanned as text).

Schema (apply once, e.g. via a migration tool):

	CREATE TABLE customers (
	    id TEXT PRIMARY KEY,
	    name TEXT NOT NULL,
	    phone TEXT,
	    balance NUMERIC(14,2) NOT NULL DEFAULT 0,
	    chain_version BIGINT NOT NULL DEFAULT 0,
	    created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE transactions (
	    id TEXT PRIMARY KEY,
	    customer_id TEXT NOT NULL REFERENCES customers(id),
	    sequence BIGINT NOT NULL,
	    bill_number TEXT,
	    date TIMESTAMPTZ NOT NULL,
	    line_items_json JSONB NOT NULL,
	    items_total NUMERIC(14,2) NOT NULL,
	    paid_amount NUMERIC(14,2) NOT NULL,
	    payment_method TEXT NOT NULL,
	    upi_type TEXT,
	    bank_name TEXT,
	    check_number TEXT,
	    cash_amount NUMERIC(14,2),
	    gpay_amount NUMERIC(14,2),
	    balance_before NUMERIC(14,2) NOT NULL,
	    balance_after NUMERIC(14,2) NOT NULL,
	    created_at TIMESTAMPTZ NOT NULL,
	    UNIQUE (customer_id, sequence)
	);
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/khata/ledger-engine/ledger"
)

// Store implements ledger.TxStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a store over an opened *sql.DB (driver "postgres").
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open dials PostgreSQL with the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

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
		c       ledger.Customer
		balance string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, name, phone, balance::text, chain_version, created_at FROM customers WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.Phone, &balance, &c.ChainVersion, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}
	c.Balance = ledger.MustDecimal(balance)
	return c, nil
}

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, db dbtx, c ledger.Customer) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, balance, chain_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone`,
		c.ID, c.Name, c.Phone, c.Balance.StringFixed(2), c.ChainVersion, c.CreatedAt.UTC(),
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
		`SELECT id, name, phone, balance::text, chain_version, created_at FROM customers ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		var (
			c       ledger.Customer
			balance string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &balance, &c.ChainVersion, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.Balance = ledger.MustDecimal(balance)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) UpdateCustomerBalance(ctx context.Context, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	return updateCustomerBalance(ctx, s.db, id, balance, expectedVersion)
}

func updateCustomerBalance(ctx context.Context, db dbtx, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE customers SET balance = $1, chain_version = chain_version + 1
		 WHERE id = $2 AND chain_version = $3`,
		balance.StringFixed(2), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
	items_total::text, paid_amount::text, payment_method, upi_type, bank_name,
	check_number, cash_amount::text, gpay_amount::text,
	balance_before::text, balance_after::text, created_at`

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) (ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, db,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
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

	_, err = db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, customer_id, sequence, bill_number, date, line_items_json,
		 items_total, paid_amount, payment_method, upi_type, bank_name,
		 check_number, cash_amount, gpay_amount, balance_before, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		tx.ID, tx.CustomerID, tx.Sequence,
		nullString(tx.BillNumber),
		tx.Date.UTC(),
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
		tx.CreatedAt.UTC(),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
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
	res, err := db.ExecContext(ctx, `
		UPDATE transactions SET
			date = $1, line_items_json = $2, items_total = $3, paid_amount = $4,
			payment_method = $5, upi_type = $6, bank_name = $7, check_number = $8,
			cash_amount = $9, gpay_amount = $10, balance_before = $11, balance_after = $12
		WHERE id = $13`,
		tx.Date.UTC(),
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
	res, err := db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
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
		`SELECT `+txColumns+` FROM transactions WHERE customer_id = $1 ORDER BY sequence ASC`, id)
}

func queryTransactions(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			tx          ledger.Transaction
			billNumber  sql.NullString
			itemsJSON   string
			itemsTotal  string
			paidAmount  string
			upiType     sql.NullString
			bankName    sql.NullString
			checkNumber sql.NullString
			cashAmount  sql.NullString
			gpayAmount  sql.NullString
			before      string
			after       string
			date        time.Time
			createdAt   time.Time
		)
		err := rows.Scan(
			&tx.ID, &tx.CustomerID, &tx.Sequence, &billNumber, &date, &itemsJSON,
			&itemsTotal, &paidAmount, &tx.Method, &upiType, &bankName, &checkNumber,
			&cashAmount, &gpayAmount, &before, &after, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if err := json.Unmarshal([]byte(itemsJSON), &tx.LineItems); err != nil {
			return nil, fmt.Errorf("failed to decode line items: %w", err)
		}

		tx.BillNumber = billNumber.String
		tx.Date = date
		tx.CreatedAt = createdAt
		tx.ItemsTotal = ledger.MustDecimal(itemsTotal)
		tx.PaidAmount = ledger.MustDecimal(paidAmount)
		tx.Detail = ledger.PaymentDetail{
			UPIType:     upiType.String,
			BankName:    bankName.String,
			CheckNumber: checkNumber.String,
			CashAmount:  decimalPtr(cashAmount),
			GpayAmount:  decimalPtr(gpayAmount),
		}
		tx.BalanceBefore = ledger.MustDecimal(before)
		tx.BalanceAfter = ledger.MustDecimal(after)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
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
