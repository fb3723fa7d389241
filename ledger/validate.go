/*
validate.go - Admission checks for transactions

PURPOSE:
  Rejects malformed transactions before they reach the reconciliation
  engine. The validator is deliberately not a credit policy: it never caps
  PaidAmount at the outstanding balance. Overpayment is permitted and
  produces a negative BalanceAfter, which downstream consumers treat as
  advance credit.

CHECKS:
  - no negative line-item quantity, rate, or amount
  - line-item amount must equal quantity x rate (2dp)
  - no negative paid amount
  - composite cash_gpay: both components present, non-negative, summing
    exactly to the paid amount
  - check payments carry a check number
  - empty no-op transactions (no items, no payment, nothing outstanding)
    are rejected; there is nothing to record
*/
package ledger

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// ValidateTransaction checks a transaction's caller-supplied fields
// against the admission rules. outstanding is the customer balance the
// transaction would apply to (the edited row's BalanceBefore for edits).
func ValidateTransaction(customerID CustomerID, items []LineItem, paid decimal.Decimal, method PaymentMethod, detail PaymentDetail, outstanding decimal.Decimal) error {
	for i, it := range items {
		if it.Quantity.IsNegative() {
			return fieldErr(customerID, lineField(i, "quantity"), "must not be negative")
		}
		if it.Rate.IsNegative() {
			return fieldErr(customerID, lineField(i, "rate"), "must not be negative")
		}
		if it.Amount.IsNegative() {
			return fieldErr(customerID, lineField(i, "amount"), "must not be negative")
		}
		if !it.Amount.Equal(Round2(it.Quantity.Mul(it.Rate))) {
			return fieldErr(customerID, lineField(i, "amount"), "does not equal quantity x rate")
		}
	}

	if paid.IsNegative() {
		return fieldErr(customerID, "paid_amount", "must not be negative")
	}
	if !KnownMethod(method) {
		return fieldErr(customerID, "payment_method", "unknown method")
	}

	if err := validateDetail(customerID, paid, method, detail); err != nil {
		return err
	}

	// Empty no-op: nothing sold, nothing paid, nothing outstanding.
	if len(items) == 0 && paid.IsZero() && outstanding.IsZero() {
		return fieldErr(customerID, "transaction", "records neither a sale nor a payment")
	}

	return nil
}

func validateDetail(customerID CustomerID, paid decimal.Decimal, method PaymentMethod, detail PaymentDetail) error {
	switch method {
	case MethodCashGpay:
		if detail.CashAmount == nil || detail.GpayAmount == nil {
			return fieldErr(customerID, "payment_detail", "cash_gpay requires cash and gpay amounts")
		}
		if detail.CashAmount.IsNegative() {
			return fieldErr(customerID, "cash_amount", "must not be negative")
		}
		if detail.GpayAmount.IsNegative() {
			return fieldErr(customerID, "gpay_amount", "must not be negative")
		}
		if !detail.CashAmount.Add(*detail.GpayAmount).Equal(paid) {
			return fieldErr(customerID, "payment_detail", "components do not sum to paid amount")
		}
	case MethodCheck:
		if paid.IsPositive() && detail.CheckNumber == "" {
			return fieldErr(customerID, "check_number", "required for check payments")
		}
	}
	return nil
}

func fieldErr(customerID CustomerID, field, reason string) error {
	return &ValidationError{CustomerID: customerID, Field: field, Reason: reason}
}

func lineField(i int, name string) string {
	return "line_items[" + strconv.Itoa(i) + "]." + name
}
