/*
engine.go - Balance reconciliation engine

PURPOSE:
  Owns the three mutations of a customer's balance chain: record, edit,
  delete. Edit and delete trigger the cascade: every later transaction in
  sequence order is recomputed from its updated predecessor, and the
  customer aggregate is set to the new chain tail. The original billing
  app patched the aggregate by the delta of the edited row and left every
  later row's stored BalanceAfter stale; recomputing the full downstream
  chain eliminates that class of inconsistency.

ATOMICITY:
  Every mutation runs inside the store's WithTx while holding the
  customer's serialization gate. Either the full set of row rewrites
  (mutated row + cascaded descendants + customer aggregate) commits, or
  none does.

ORDERING:
  Sequence is assigned here at creation time and never changes. The
  display Date is caller-editable metadata; changing it never perturbs
  balance computation.

SEE ALSO:
  - coordinator.go: the per-customer gate
  - validate.go: admission checks run before any row is touched
  - query.go: the read-only facade
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine applies chain mutations. All writes to customer balances in the
// system flow through this type; nothing else touches the aggregate.
type Engine struct {
	store  TxStore
	gates  *Coordinator
	events EventPublisher
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvents attaches a publisher for committed mutation events.
func WithEvents(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithLockTimeout bounds the wait for a customer's serialization gate.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.gates = NewCoordinator(d) }
}

// NewEngine creates an engine over the given transactional store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		gates: NewCoordinator(DefaultLockTimeout),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CreateCustomer registers a billable party with a zero balance.
// A customer may exist with no transactions at all.
func (e *Engine) CreateCustomer(ctx context.Context, name, phone string) (Customer, error) {
	if name == "" {
		return Customer{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	c := Customer{
		ID:        CustomerID(uuid.NewString()),
		Name:      name,
		Phone:     phone,
		Balance:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveCustomer(ctx, c); err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	return c, nil
}

// =============================================================================
// RECORD
// =============================================================================

// RecordTransaction appends a transaction to the customer's chain.
//
//	ItemsTotal    = sum of line-item amounts
//	BalanceBefore = current customer balance
//	BalanceAfter  = BalanceBefore + ItemsTotal - PaidAmount
//
// Both a pure payment (no items) and a pure charge (zero paid) are valid.
// Overpayment yields a negative BalanceAfter: advance credit.
func (e *Engine) RecordTransaction(ctx context.Context, customerID CustomerID, in TransactionInput) (Transaction, error) {
	var recorded Transaction

	err := e.gates.Do(ctx, customerID, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			customer, err := s.GetCustomer(ctx, customerID)
			if err != nil {
				return err
			}

			if err := ValidateTransaction(customerID, in.LineItems, in.PaidAmount, in.Method, in.Detail, customer.Balance); err != nil {
				return err
			}

			chain, err := s.ListTransactionsByCustomer(ctx, customerID)
			if err != nil {
				return err
			}

			seq := int64(1)
			if n := len(chain); n > 0 {
				seq = chain[n-1].Sequence + 1
			}

			itemsTotal := SumLineItems(in.LineItems)
			paid := Round2(in.PaidAmount)
			before := customer.Balance
			after := Round2(before.Add(itemsTotal).Sub(paid))

			date := in.Date
			if date.IsZero() {
				date = time.Now().UTC()
			}

			recorded = Transaction{
				ID:            TransactionID(uuid.NewString()),
				CustomerID:    customerID,
				Sequence:      seq,
				BillNumber:    fmt.Sprintf("BILL-%04d", seq),
				Date:          date,
				LineItems:     in.LineItems,
				ItemsTotal:    itemsTotal,
				PaidAmount:    paid,
				Method:        in.Method,
				Detail:        in.Detail,
				BalanceBefore: before,
				BalanceAfter:  after,
				CreatedAt:     time.Now().UTC(),
			}

			if err := s.InsertTransaction(ctx, recorded); err != nil {
				return err
			}
			return s.UpdateCustomerBalance(ctx, customerID, after, customer.ChainVersion)
		})
	})
	if err != nil {
		return Transaction{}, e.classify(err)
	}

	mutationsTotal.WithLabelValues("record").Inc()
	e.publish(EventRecorded, recorded)
	return recorded, nil
}

// =============================================================================
// EDIT
// =============================================================================

// EditTransaction replaces the mutable fields of a transaction, recomputes
// its totals, then cascades the new balances through every later
// transaction in sequence order. Sequence itself is immutable.
func (e *Engine) EditTransaction(ctx context.Context, txID TransactionID, in EditInput) (Transaction, error) {
	existing, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return Transaction{}, e.classify(err)
	}
	customerID := existing.CustomerID

	var edited Transaction

	err = e.gates.Do(ctx, customerID, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			customer, err := s.GetCustomer(ctx, customerID)
			if err != nil {
				return err
			}
			if in.ExpectedVersion != nil && *in.ExpectedVersion != customer.ChainVersion {
				return &ConflictError{
					CustomerID: customerID,
					Expected:   *in.ExpectedVersion,
					Actual:     customer.ChainVersion,
				}
			}

			chain, err := s.ListTransactionsByCustomer(ctx, customerID)
			if err != nil {
				return err
			}
			idx := indexOf(chain, txID)
			if idx < 0 {
				return ErrTransactionNotFound
			}

			target := chain[idx]
			applyEdit(&target, in)
			target.ItemsTotal = SumLineItems(target.LineItems)
			target.PaidAmount = Round2(target.PaidAmount)

			if err := ValidateTransaction(customerID, target.LineItems, target.PaidAmount, target.Method, target.Detail, target.BalanceBefore); err != nil {
				return err
			}

			chain[idx] = target
			tail, err := recomputeFrom(ctx, s, chain, idx)
			if err != nil {
				return err
			}
			edited = chain[idx]

			cascadeDepth.Observe(float64(len(chain) - idx - 1))
			return s.UpdateCustomerBalance(ctx, customerID, tail, customer.ChainVersion)
		})
	})
	if err != nil {
		return Transaction{}, e.classify(err)
	}

	mutationsTotal.WithLabelValues("edit").Inc()
	e.publish(EventEdited, edited)
	return edited, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteTransaction removes a transaction and cascades, using the deleted
// row's former predecessor as the new chain root for everything after it.
func (e *Engine) DeleteTransaction(ctx context.Context, txID TransactionID) error {
	existing, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return e.classify(err)
	}
	customerID := existing.CustomerID

	var deleted Transaction

	err = e.gates.Do(ctx, customerID, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			customer, err := s.GetCustomer(ctx, customerID)
			if err != nil {
				return err
			}

			chain, err := s.ListTransactionsByCustomer(ctx, customerID)
			if err != nil {
				return err
			}
			idx := indexOf(chain, txID)
			if idx < 0 {
				return ErrTransactionNotFound
			}
			deleted = chain[idx]

			if err := s.DeleteTransaction(ctx, txID); err != nil {
				return err
			}

			rest := append(chain[:idx:idx], chain[idx+1:]...)
			tail, err := recomputeFrom(ctx, s, rest, idx)
			if err != nil {
				return err
			}

			cascadeDepth.Observe(float64(len(rest) - idx))
			return s.UpdateCustomerBalance(ctx, customerID, tail, customer.ChainVersion)
		})
	})
	if err != nil {
		return e.classify(err)
	}

	mutationsTotal.WithLabelValues("delete").Inc()
	e.publish(EventDeleted, deleted)
	return nil
}

// =============================================================================
// CASCADE
// =============================================================================

// recomputeFrom rewrites chain[idx:] so each row's BalanceBefore equals
// its predecessor's BalanceAfter (zero at the chain root) and persists
// every row whose balances changed. Returns the new chain tail balance.
func recomputeFrom(ctx context.Context, s Store, chain []Transaction, idx int) (decimal.Decimal, error) {
	prev := decimal.Zero
	if idx > 0 {
		prev = chain[idx-1].BalanceAfter
	}

	for i := idx; i < len(chain); i++ {
		tx := chain[i]
		before := prev
		after := Round2(before.Add(tx.ItemsTotal).Sub(tx.PaidAmount))

		if !tx.BalanceBefore.Equal(before) || !tx.BalanceAfter.Equal(after) || i == idx {
			tx.BalanceBefore = before
			tx.BalanceAfter = after
			if err := s.UpdateTransaction(ctx, tx); err != nil {
				return decimal.Zero, err
			}
			chain[i] = tx
		}
		prev = chain[i].BalanceAfter
	}

	return prev, nil
}

func indexOf(chain []Transaction, id TransactionID) int {
	for i, tx := range chain {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

func applyEdit(tx *Transaction, in EditInput) {
	if in.LineItems != nil {
		tx.LineItems = *in.LineItems
	}
	if in.PaidAmount != nil {
		tx.PaidAmount = *in.PaidAmount
	}
	if in.Method != nil {
		tx.Method = *in.Method
	}
	if in.Detail != nil {
		tx.Detail = *in.Detail
	}
	if in.Date != nil {
		tx.Date = *in.Date
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// classify counts conflicts and wraps unexpected store failures so
// callers can match on ErrPersistence.
func (e *Engine) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		conflictsTotal.Inc()
		return err
	case errors.Is(err, ErrBusy),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case IsClientError(err) || IsNotFound(err):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}

func (e *Engine) publish(typ EventType, tx Transaction) {
	if e.events == nil {
		return
	}
	ev := TransactionEvent{
		Type:          typ,
		TransactionID: string(tx.ID),
		CustomerID:    string(tx.CustomerID),
		Sequence:      tx.Sequence,
		ItemsTotal:    tx.ItemsTotal.StringFixed(2),
		PaidAmount:    tx.PaidAmount.StringFixed(2),
		BalanceAfter:  tx.BalanceAfter.StringFixed(2),
		OccurredAt:    time.Now().UTC(),
	}
	if err := e.events.Publish(string(typ), ev); err != nil {
		log.Printf("ledger: publish %s for tx %s failed: %v", typ, tx.ID, err)
	}
}
