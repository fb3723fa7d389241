// Package store provides an in-memory ledger.TxStore for tests and
// development. Atomicity is simulated with a snapshot taken before the
// transactional function runs, restored on error.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/khata/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	customers    map[ledger.CustomerID]ledger.Customer
	transactions map[ledger.CustomerID][]ledger.Transaction
	byID         map[ledger.TransactionID]ledger.CustomerID
}

func NewMemory() *Memory {
	return &Memory{
		customers:    make(map[ledger.CustomerID]ledger.Customer),
		transactions: make(map[ledger.CustomerID][]ledger.Transaction),
		byID:         make(map[ledger.TransactionID]ledger.CustomerID),
	}
}

func (m *Memory) GetCustomer(_ context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCustomerLocked(id)
}

func (m *Memory) getCustomerLocked(id ledger.CustomerID) (ledger.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, nil
}

func (m *Memory) SaveCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateCustomerBalance(_ context.Context, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalanceLocked(id, balance, expectedVersion)
}

func (m *Memory) updateBalanceLocked(id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	c, ok := m.customers[id]
	if !ok {
		return ledger.ErrCustomerNotFound
	}
	if c.ChainVersion != expectedVersion {
		return &ledger.ConflictError{CustomerID: id, Expected: expectedVersion, Actual: c.ChainVersion}
	}
	c.Balance = balance
	c.ChainVersion = expectedVersion + 1
	m.customers[id] = c
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) (ledger.Transaction, error) {
	customerID, ok := m.byID[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	for _, tx := range m.transactions[customerID] {
		if tx.ID == id {
			return tx, nil
		}
	}
	return ledger.Transaction{}, ledger.ErrTransactionNotFound
}

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx)
}

func (m *Memory) insertLocked(tx ledger.Transaction) error {
	chain := m.transactions[tx.CustomerID]

	// Insert keeping sequence order. New rows normally append.
	i := sort.Search(len(chain), func(i int) bool {
		return chain[i].Sequence > tx.Sequence
	})
	chain = append(chain, ledger.Transaction{})
	copy(chain[i+1:], chain[i:])
	chain[i] = tx

	m.transactions[tx.CustomerID] = chain
	m.byID[tx.ID] = tx.CustomerID
	return nil
}

func (m *Memory) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(tx)
}

func (m *Memory) updateLocked(tx ledger.Transaction) error {
	chain := m.transactions[tx.CustomerID]
	for i := range chain {
		if chain[i].ID == tx.ID {
			chain[i] = tx
			return nil
		}
	}
	return ledger.ErrTransactionNotFound
}

func (m *Memory) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id ledger.TransactionID) error {
	customerID, ok := m.byID[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	chain := m.transactions[customerID]
	for i := range chain {
		if chain[i].ID == id {
			m.transactions[customerID] = append(chain[:i:i], chain[i+1:]...)
			delete(m.byID, id)
			return nil
		}
	}
	return ledger.ErrTransactionNotFound
}

func (m *Memory) ListTransactionsByCustomer(_ context.Context, id ledger.CustomerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.transactions[id]))
	copy(result, m.transactions[id])
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW - snapshot + rollback on error
// =============================================================================

// WithTx executes fn against a view of the store, restoring the snapshot
// if fn fails. The store mutex is held throughout, so a memory "commit"
// is atomic with respect to readers.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	customers    map[ledger.CustomerID]ledger.Customer
	transactions map[ledger.CustomerID][]ledger.Transaction
	byID         map[ledger.TransactionID]ledger.CustomerID
}

func (m *Memory) snapshot() memorySnapshot {
	customers := make(map[ledger.CustomerID]ledger.Customer, len(m.customers))
	for k, v := range m.customers {
		customers[k] = v
	}
	transactions := make(map[ledger.CustomerID][]ledger.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		transactions[k] = append([]ledger.Transaction{}, v...)
	}
	byID := make(map[ledger.TransactionID]ledger.CustomerID, len(m.byID))
	for k, v := range m.byID {
		byID[k] = v
	}
	return memorySnapshot{customers: customers, transactions: transactions, byID: byID}
}

func (m *Memory) restore(s memorySnapshot) {
	m.customers = s.customers
	m.transactions = s.transactions
	m.byID = s.byID
}

// txMemoryView calls the parent's *Locked helpers directly: the parent
// mutex is already held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetCustomer(_ context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	return tv.parent.getCustomerLocked(id)
}

func (tv *txMemoryView) SaveCustomer(_ context.Context, c ledger.Customer) error {
	tv.parent.customers[c.ID] = c
	return nil
}

func (tv *txMemoryView) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	out := make([]ledger.Customer, 0, len(tv.parent.customers))
	for _, c := range tv.parent.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (tv *txMemoryView) UpdateCustomerBalance(_ context.Context, id ledger.CustomerID, balance decimal.Decimal, expectedVersion int64) error {
	return tv.parent.updateBalanceLocked(id, balance, expectedVersion)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txMemoryView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.insertLocked(tx)
}

func (tv *txMemoryView) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.updateLocked(tx)
}

func (tv *txMemoryView) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) ListTransactionsByCustomer(_ context.Context, id ledger.CustomerID) ([]ledger.Transaction, error) {
	result := make([]ledger.Transaction, len(tv.parent.transactions[id]))
	copy(result, tv.parent.transactions[id])
	return result, nil
}

var _ ledger.TxStore = (*Memory)(nil)
var _ ledger.Store = (*txMemoryView)(nil)
