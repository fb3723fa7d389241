/*
Package ledger implements the customer running-balance engine.

PURPOSE:
  This package contains the domain types and algorithms for maintaining a
  per-customer cumulative balance that is always reconstructible from the
  transaction history. Every sale, payment, or combined bill mutates the
  chain through exactly three operations (record, edit, delete); the
  customer's stored balance is a derived projection of the chain, never an
  independently writable field.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer: a billable party carrying the cached chain tail balance
  - Transaction: one ledger event with its balance-before/after pair
  - LineItem: a priced item inside a transaction
  - PaymentMethod / PaymentDetail: how a payment was made, including the
    composite cash+gpay split

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never binary floats
  2. Derived state: Customer.Balance equals the last transaction's
     BalanceAfter in sequence order, or zero with no transactions
  3. Explicit ordering: Sequence is assigned at creation and immutable;
     the display Date is metadata and never reorders the chain

SEE ALSO:
  - engine.go: record/edit/delete and the cascade recompute
  - validate.go: admission checks before a transaction reaches the engine
  - query.go: read-only balance and history operations
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string

// =============================================================================
// MONEY
// =============================================================================

// Round2 normalizes a monetary quantity to two decimal places, half-up.
// Applied at every engine boundary so cascades never accumulate drift.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses a fixed-point decimal string, returning zero on
// malformed input. Test and fixture helper.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// CUSTOMER - Billable party
// =============================================================================

// Customer is a billable party. Balance is the cached tail of the
// transaction chain; it is written only by the engine's cascade step.
// ChainVersion increments on every committed mutation and backs the
// optimistic conflict check at commit time.
type Customer struct {
	ID           CustomerID
	Name         string
	Phone        string
	Balance      decimal.Decimal
	ChainVersion int64
	CreatedAt    time.Time
}

// =============================================================================
// TRANSACTION - One ledger event (charge, payment, or both)
// =============================================================================

// Transaction is one ledger event. Invariant:
//
//	BalanceAfter = BalanceBefore + ItemsTotal - PaidAmount
//
// BalanceBefore equals the previous transaction's BalanceAfter in sequence
// order (zero for the first). A negative BalanceAfter is advance credit:
// the business owes the customer.
type Transaction struct {
	ID         TransactionID
	CustomerID CustomerID

	// Sequence is the chain ordering key, assigned at creation, immutable.
	// Distinct from Date, which is user-editable display metadata.
	Sequence   int64
	BillNumber string
	Date       time.Time

	LineItems  []LineItem
	ItemsTotal decimal.Decimal
	PaidAmount decimal.Decimal
	Method     PaymentMethod
	Detail     PaymentDetail

	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal

	CreatedAt time.Time
}

// IsPurePayment reports whether this transaction only settles balance.
func (t Transaction) IsPurePayment() bool {
	return len(t.LineItems) == 0 && t.ItemsTotal.IsZero()
}

// =============================================================================
// LINE ITEM
// =============================================================================

// LineItem is one priced item within a transaction.
// Amount = Quantity x Rate at two decimal places; it contributes to, and
// never overrides, the transaction's ItemsTotal.
type LineItem struct {
	Item     string
	Quantity decimal.Decimal
	Rate     decimal.Decimal
	Amount   decimal.Decimal
}

// SumLineItems computes the per-transaction items total.
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return Round2(total)
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodUPI      PaymentMethod = "upi"
	MethodCheck    PaymentMethod = "check"
	MethodCashGpay PaymentMethod = "cash_gpay" // composite: cash + electronic split
)

// KnownMethod reports whether m is one of the supported payment methods.
func KnownMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodUPI, MethodCheck, MethodCashGpay:
		return true
	}
	return false
}

// PaymentDetail carries method-specific fields. For cash_gpay the two
// component amounts must be present and sum exactly to PaidAmount; the
// validator enforces this before the engine sees the transaction.
type PaymentDetail struct {
	UPIType     string
	BankName    string
	CheckNumber string
	CashAmount  *decimal.Decimal
	GpayAmount  *decimal.Decimal
}

// =============================================================================
// MUTATION INPUTS
// =============================================================================

// TransactionInput is the caller-supplied portion of a new transaction.
// ItemsTotal, Sequence, BillNumber and the balance pair are computed by
// the engine.
type TransactionInput struct {
	LineItems  []LineItem
	PaidAmount decimal.Decimal
	Method     PaymentMethod
	Detail     PaymentDetail
	Date       time.Time
}

// EditInput carries the mutable fields of an existing transaction.
// Nil fields are left unchanged. Sequence can never be edited.
// ExpectedVersion, when set, must match the customer's current
// ChainVersion or the edit fails with ErrConflict.
type EditInput struct {
	LineItems       *[]LineItem
	PaidAmount      *decimal.Decimal
	Method          *PaymentMethod
	Detail          *PaymentDetail
	Date            *time.Time
	ExpectedVersion *int64
}

// =============================================================================
// EVENTS - Published after successful commits
// =============================================================================

type EventType string

const (
	EventRecorded EventType = "transaction_recorded"
	EventEdited   EventType = "transaction_edited"
	EventDeleted  EventType = "transaction_deleted"
)

// TransactionEvent is emitted after a mutation commits. Monetary values
// cross the boundary as fixed-point strings.
type TransactionEvent struct {
	Type          EventType `json:"type"`
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	Sequence      int64     `json:"sequence"`
	ItemsTotal    string    `json:"items_total"`
	PaidAmount    string    `json:"paid_amount"`
	BalanceAfter  string    `json:"balance_after"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventPublisher delivers committed mutation events to interested
// consumers (messaging, reporting). Publishing is best-effort and never
// affects the outcome of a mutation.
type EventPublisher interface {
	Publish(topic string, event any) error
}
