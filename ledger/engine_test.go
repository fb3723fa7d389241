package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khata/ledger-engine/ledger"
	"github.com/khata/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewEngine(mem), mem
}

func newTestCustomer(t *testing.T, e *ledger.Engine) ledger.Customer {
	t.Helper()
	c, err := e.CreateCustomer(context.Background(), "Ramesh Traders", "+91 98765 43210")
	require.NoError(t, err)
	return c
}

func rupees(s string) decimal.Decimal {
	return ledger.MustDecimal(s)
}

// item builds a single line item priced at qty x rate.
func item(name, qty, rate string) ledger.LineItem {
	q := rupees(qty)
	r := rupees(rate)
	return ledger.LineItem{Item: name, Quantity: q, Rate: r, Amount: ledger.Round2(q.Mul(r))}
}

func cashSale(items []ledger.LineItem, paid string) ledger.TransactionInput {
	return ledger.TransactionInput{
		LineItems:  items,
		PaidAmount: rupees(paid),
		Method:     ledger.MethodCash,
	}
}

func assertBalance(t *testing.T, e *ledger.Engine, id ledger.CustomerID, want string) {
	t.Helper()
	got, err := e.CurrentBalance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rupees(want).Equal(got), "balance: want %s, got %s", want, got)
}

// =============================================================================
// RUNNING BALANCE TESTS
// =============================================================================

func TestRecordTransaction_PartialPayment_CarriesBalance(t *testing.T) {
	// GIVEN: New customer with zero balance
	// WHEN: Recording items=500, paid=300
	// THEN: balanceAfter=200 and the customer aggregate matches

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "5", "100")}, "300"))
	require.NoError(t, err)

	assert.True(t, rupees("0").Equal(tx.BalanceBefore))
	assert.True(t, rupees("500").Equal(tx.ItemsTotal))
	assert.True(t, rupees("200").Equal(tx.BalanceAfter))
	assert.Equal(t, int64(1), tx.Sequence)
	assert.Equal(t, "BILL-0001", tx.BillNumber)
	assertBalance(t, e, c.ID, "200")
}

func TestRecordTransaction_ChainsFromPreviousBalance(t *testing.T) {
	// GIVEN: Customer owing 200 from an earlier bill
	// WHEN: Recording items=100, paid=0
	// THEN: balanceBefore=200, balanceAfter=300

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "5", "100")}, "300"))
	require.NoError(t, err)

	tx2, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "100")}, "0"))
	require.NoError(t, err)

	assert.True(t, rupees("200").Equal(tx2.BalanceBefore))
	assert.True(t, rupees("300").Equal(tx2.BalanceAfter))
	assert.Equal(t, int64(2), tx2.Sequence)
	assertBalance(t, e, c.ID, "300")
}

func TestEditTransaction_CascadesThroughLaterTransactions(t *testing.T) {
	// GIVEN: tx1 (items=500, paid=300) then tx2 (items=100, paid=0)
	// WHEN: Editing tx1 down to items=400
	// THEN: tx1 balanceAfter=100, tx2 recomputed to before=100/after=200,
	//       and the customer aggregate equals the new chain tail

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx1, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "5", "100")}, "300"))
	require.NoError(t, err)
	tx2, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "100")}, "0"))
	require.NoError(t, err)

	newItems := []ledger.LineItem{item("rice", "4", "100")}
	edited, err := e.EditTransaction(ctx, tx1.ID, ledger.EditInput{LineItems: &newItems})
	require.NoError(t, err)

	assert.True(t, rupees("400").Equal(edited.ItemsTotal))
	assert.True(t, rupees("100").Equal(edited.BalanceAfter))

	history, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, tx2.ID, history[1].ID)
	assert.True(t, rupees("100").Equal(history[1].BalanceBefore), "cascade must rewrite tx2")
	assert.True(t, rupees("200").Equal(history[1].BalanceAfter))
	assertBalance(t, e, c.ID, "200")
}

func TestDeleteTransaction_RevertsToPredecessorTail(t *testing.T) {
	// GIVEN: The edited two-transaction chain (tail 200)
	// WHEN: Deleting tx2
	// THEN: Customer balance reverts to tx1's balanceAfter=100

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx1, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "4", "100")}, "300"))
	require.NoError(t, err)
	tx2, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "100")}, "0"))
	require.NoError(t, err)

	require.NoError(t, e.DeleteTransaction(ctx, tx2.ID))

	assertBalance(t, e, c.ID, "100")
	history, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tx1.ID, history[0].ID)

	_, err = e.BalanceAsOf(ctx, tx2.ID)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestRecordTransaction_Overpayment_BecomesAdvanceCredit(t *testing.T) {
	// GIVEN: Customer owing 100
	// WHEN: Paying 150 with no items
	// THEN: balanceAfter=-50 (advance credit), never clamped to zero

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))
	require.NoError(t, err)

	payment, err := e.RecordTransaction(ctx, c.ID, cashSale(nil, "150"))
	require.NoError(t, err)

	assert.True(t, payment.IsPurePayment())
	assert.True(t, rupees("-50").Equal(payment.BalanceAfter))
	assertBalance(t, e, c.ID, "-50")
}

func TestRecordTransaction_AdvanceCredit_OffsetsNextBill(t *testing.T) {
	// GIVEN: Customer holding 50 advance credit (balance -50)
	// WHEN: Recording items=60, paid=0
	// THEN: balanceBefore=-50, balanceAfter=10

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))
	require.NoError(t, err)
	_, err = e.RecordTransaction(ctx, c.ID, cashSale(nil, "150"))
	require.NoError(t, err)

	tx, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "60")}, "0"))
	require.NoError(t, err)

	assert.True(t, rupees("-50").Equal(tx.BalanceBefore))
	assert.True(t, rupees("10").Equal(tx.BalanceAfter))
	assertBalance(t, e, c.ID, "10")
}

// =============================================================================
// CHAIN INVARIANT TESTS
// =============================================================================

func TestChain_EveryLinkMatchesPredecessor(t *testing.T) {
	// GIVEN: A longer chain with mixed bills and payments
	// WHEN: Editing an early transaction
	// THEN: Every transaction's balanceBefore equals its predecessor's
	//       balanceAfter, and the aggregate equals the tail

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	inputs := []ledger.TransactionInput{
		cashSale([]ledger.LineItem{item("rice", "2", "120.50")}, "100"),
		cashSale([]ledger.LineItem{item("dal", "3", "85.25")}, "0"),
		cashSale(nil, "200"),
		cashSale([]ledger.LineItem{item("oil", "1.5", "210")}, "50"),
	}
	var first ledger.Transaction
	for i, in := range inputs {
		tx, err := e.RecordTransaction(ctx, c.ID, in)
		require.NoError(t, err)
		if i == 0 {
			first = tx
		}
	}

	newItems := []ledger.LineItem{item("rice", "1", "120.50")}
	_, err := e.EditTransaction(ctx, first.ID, ledger.EditInput{LineItems: &newItems})
	require.NoError(t, err)

	chain, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	prev := decimal.Zero
	for i, tx := range chain {
		assert.True(t, prev.Equal(tx.BalanceBefore), "tx %d balanceBefore", i)
		want := ledger.Round2(tx.BalanceBefore.Add(tx.ItemsTotal).Sub(tx.PaidAmount))
		assert.True(t, want.Equal(tx.BalanceAfter), "tx %d balanceAfter", i)
		prev = tx.BalanceAfter
	}
	assertBalance(t, e, c.ID, prev.StringFixed(2))
}

func TestEditTransaction_SequenceAndDateIndependent(t *testing.T) {
	// GIVEN: Two transactions
	// WHEN: Backdating the second transaction's display date before the first
	// THEN: Sequence order and balances are untouched

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))
	require.NoError(t, err)
	tx2, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "50")}, "0"))
	require.NoError(t, err)

	backdated := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	edited, err := e.EditTransaction(ctx, tx2.ID, ledger.EditInput{Date: &backdated})
	require.NoError(t, err)

	assert.Equal(t, int64(2), edited.Sequence)
	assert.Equal(t, backdated, edited.Date)
	assert.True(t, rupees("100").Equal(edited.BalanceBefore))
	assertBalance(t, e, c.ID, "150")
}

func TestDeleteTransaction_FirstOfChain_RootsAtZero(t *testing.T) {
	// GIVEN: Two transactions
	// WHEN: Deleting the first
	// THEN: The survivor is recomputed from a zero root

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx1, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "500")}, "0"))
	require.NoError(t, err)
	tx2, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "100")}, "0"))
	require.NoError(t, err)

	require.NoError(t, e.DeleteTransaction(ctx, tx1.ID))

	b, err := e.BalanceAsOf(ctx, tx2.ID)
	require.NoError(t, err)
	assert.True(t, rupees("100").Equal(b))
	assertBalance(t, e, c.ID, "100")
}

func TestDeleteTransaction_LastRemaining_LeavesZeroBalance(t *testing.T) {
	// GIVEN: A customer with a single transaction
	// WHEN: Deleting it
	// THEN: Balance is zero and history is empty; the customer remains

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "500")}, "200"))
	require.NoError(t, err)
	require.NoError(t, e.DeleteTransaction(ctx, tx.ID))

	assertBalance(t, e, c.ID, "0")
	history, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// =============================================================================
// ERROR TAXONOMY TESTS
// =============================================================================

func TestRecordTransaction_UnknownCustomer_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.RecordTransaction(context.Background(), "no-such-customer",
		cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))

	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestEditTransaction_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: A transaction recorded at chain version v
	// WHEN: Editing with an expected version older than the customer's
	// THEN: ConflictError, and nothing is modified

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx1, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))
	require.NoError(t, err)
	_, err = e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "50")}, "0"))
	require.NoError(t, err)

	stale := int64(1) // version after tx1, already superseded by tx2
	newItems := []ledger.LineItem{item("rice", "2", "100")}
	_, err = e.EditTransaction(ctx, tx1.ID, ledger.EditInput{LineItems: &newItems, ExpectedVersion: &stale})

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.True(t, ledger.IsRetryable(err))
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, c.ID, conflict.CustomerID)
	assertBalance(t, e, c.ID, "150")
}

func TestRecordTransaction_ValidationFailure_LeavesChainUntouched(t *testing.T) {
	// GIVEN: A customer with one transaction
	// WHEN: Recording a transaction with a negative paid amount
	// THEN: ValidationError; balance and history are unchanged

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))
	require.NoError(t, err)

	_, err = e.RecordTransaction(ctx, c.ID, cashSale(nil, "-10"))
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.True(t, ledger.IsClientError(err))

	history, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assertBalance(t, e, c.ID, "100")
}

func TestCreateCustomer_EmptyName_Rejected(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateCustomer(context.Background(), "", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
