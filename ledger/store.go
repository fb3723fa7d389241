/*
store.go - Persistence interface for customers and the transaction chain

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Row-level reads and writes for customers and transactions
  TxStore: Store plus WithTx for atomic multi-row commits

ATOMIC CASCADES:
  Edit and delete rewrite the mutated row, every later row in the chain,
  and the customer aggregate. WithTx gives these rewrites all-or-nothing
  semantics: if any write fails, nothing is persisted.

OPTIMISTIC COMMIT CHECK:
  UpdateCustomerBalance is conditional on the customer's current chain
  version. A concurrent writer that committed first leaves a newer version
  behind and the update reports ErrConflict instead of overwriting.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite with WAL
  - store/postgres/postgres.go: PostgreSQL via lib/pq

SEE ALSO:
  - engine.go: the only writer going through this interface
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Row-level persistence
// =============================================================================

// Store handles persistence of customers and transactions.
// ListTransactionsByCustomer must return sequence order: that order is
// authoritative for every balance computation, regardless of display dates.
type Store interface {
	// GetCustomer returns a customer or ErrCustomerNotFound.
	GetCustomer(ctx context.Context, id CustomerID) (Customer, error)

	// SaveCustomer inserts or updates a customer record.
	SaveCustomer(ctx context.Context, c Customer) error

	// ListCustomers returns all customers ordered by name.
	ListCustomers(ctx context.Context) ([]Customer, error)

	// UpdateCustomerBalance sets the cached balance and bumps the chain
	// version, conditional on expectedVersion matching the stored one.
	// Returns ErrConflict on a version mismatch.
	UpdateCustomerBalance(ctx context.Context, id CustomerID, balance decimal.Decimal, expectedVersion int64) error

	// GetTransaction returns a transaction or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error)

	// InsertTransaction appends a new row to a customer's chain.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// UpdateTransaction rewrites a row. Sequence never changes.
	UpdateTransaction(ctx context.Context, tx Transaction) error

	// DeleteTransaction removes a row or returns ErrTransactionNotFound.
	DeleteTransaction(ctx context.Context, id TransactionID) error

	// ListTransactionsByCustomer returns the full chain in sequence order.
	ListTransactionsByCustomer(ctx context.Context, id CustomerID) ([]Transaction, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-row commits
// =============================================================================

// TxStore wraps Store with transaction support. The engine performs every
// mutation inside WithTx so a cascade either fully commits or fully rolls
// back.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
