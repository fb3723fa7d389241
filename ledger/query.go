/*
query.go - Read-only ledger facade

PURPOSE:
  The read operations consumed by billing, edit, and reporting screens.
  Reads always resolve against the store, never a client-side cache, so
  no caller ever needs a manual "refresh" to repair drift.

READ-AFTER-WRITE:
  CurrentBalance takes the customer's serialization gate briefly before
  reading, draining any in-flight mutation for that customer. A read
  acknowledged after a mutation therefore observes it, regardless of
  which session issued either call. Reads for other customers are never
  blocked.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GetCustomer returns a customer record.
func (e *Engine) GetCustomer(ctx context.Context, id CustomerID) (Customer, error) {
	return e.store.GetCustomer(ctx, id)
}

// ListCustomers returns all customers ordered by name.
func (e *Engine) ListCustomers(ctx context.Context) ([]Customer, error) {
	return e.store.ListCustomers(ctx)
}

// CurrentBalance returns the customer's balance once no mutation is in
// flight for that customer. A negative balance is advance credit.
func (e *Engine) CurrentBalance(ctx context.Context, id CustomerID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := e.gates.Do(ctx, id, func() error {
		c, err := e.store.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		balance = c.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// History returns the customer's transactions in sequence order,
// optionally filtered to display dates within [from, to]. Sequence order
// is authoritative for balance reasoning; callers may re-sort by Date
// for presentation only.
func (e *Engine) History(ctx context.Context, id CustomerID, from, to *time.Time) ([]Transaction, error) {
	if _, err := e.store.GetCustomer(ctx, id); err != nil {
		return nil, err
	}

	chain, err := e.store.ListTransactionsByCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if from == nil && to == nil {
		return chain, nil
	}

	filtered := make([]Transaction, 0, len(chain))
	for _, tx := range chain {
		if from != nil && tx.Date.Before(*from) {
			continue
		}
		if to != nil && tx.Date.After(*to) {
			continue
		}
		filtered = append(filtered, tx)
	}
	return filtered, nil
}

// BalanceAsOf returns the transaction's stored BalanceAfter: the
// cumulative balance at that point in the chain, unaffected by anything
// recorded later. Receipt and sharing formatters consume this verbatim
// and perform no balance arithmetic of their own.
func (e *Engine) BalanceAsOf(ctx context.Context, txID TransactionID) (decimal.Decimal, error) {
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return decimal.Zero, err
	}
	return tx.BalanceAfter, nil
}
