package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khata/ledger-engine/ledger"
)

func dated(items []ledger.LineItem, paid string, date time.Time) ledger.TransactionInput {
	in := cashSale(items, paid)
	in.Date = date
	return in
}

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_SequenceOrder_RegardlessOfDates(t *testing.T) {
	// GIVEN: Transactions recorded with out-of-order display dates
	// WHEN: Fetching history
	// THEN: Rows come back in sequence order, not date order

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	_, err := e.RecordTransaction(ctx, c.ID, dated([]ledger.LineItem{item("rice", "1", "100")}, "0", day(20)))
	require.NoError(t, err)
	_, err = e.RecordTransaction(ctx, c.ID, dated([]ledger.LineItem{item("dal", "1", "50")}, "0", day(5)))
	require.NoError(t, err)

	history, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Sequence)
	assert.Equal(t, int64(2), history[1].Sequence)
	assert.True(t, history[0].Date.After(history[1].Date))
}

func TestHistory_DateRangeFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	for _, d := range []int{1, 10, 20} {
		_, err := e.RecordTransaction(ctx, c.ID, dated([]ledger.LineItem{item("rice", "1", "100")}, "0", day(d)))
		require.NoError(t, err)
	}

	from, to := day(5), day(15)
	history, err := e.History(ctx, c.ID, &from, &to)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, day(10), history[0].Date)
}

func TestHistory_UnknownCustomer_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.History(context.Background(), "no-such-customer", nil, nil)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

func TestHistory_CustomerWithNoTransactions_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)

	history, err := e.History(context.Background(), c.ID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, history)
	assertBalance(t, e, c.ID, "0")
}

// =============================================================================
// POINT-IN-TIME BALANCE TESTS
// =============================================================================

func TestBalanceAsOf_ReturnsChainPosition(t *testing.T) {
	// GIVEN: Two transactions
	// WHEN: Asking for the balance as of the first
	// THEN: The first transaction's balanceAfter, not the current balance

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx1, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "500")}, "300"))
	require.NoError(t, err)
	_, err = e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "100")}, "0"))
	require.NoError(t, err)

	b, err := e.BalanceAsOf(ctx, tx1.ID)
	require.NoError(t, err)
	assert.True(t, rupees("200").Equal(b))
	assertBalance(t, e, c.ID, "300")
}

func TestBalanceAsOf_ReflectsCascadeFromEarlierEdit(t *testing.T) {
	// GIVEN: tx1 then tx2
	// WHEN: tx1 is edited
	// THEN: BalanceAsOf(tx2) returns tx2's recomputed balanceAfter

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	tx1, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "5", "100")}, "0"))
	require.NoError(t, err)
	tx2, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("dal", "1", "100")}, "0"))
	require.NoError(t, err)

	newItems := []ledger.LineItem{item("rice", "2", "100")}
	_, err = e.EditTransaction(ctx, tx1.ID, ledger.EditInput{LineItems: &newItems})
	require.NoError(t, err)

	b, err := e.BalanceAsOf(ctx, tx2.ID)
	require.NoError(t, err)
	assert.True(t, rupees("300").Equal(b))
}

func TestBalanceAsOf_UnknownTransaction_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.BalanceAsOf(context.Background(), "no-such-tx")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// CUSTOMER LISTING TESTS
// =============================================================================

func TestListCustomers_ReturnsAll(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateCustomer(ctx, "Anita Stores", "")
	require.NoError(t, err)
	_, err = e.CreateCustomer(ctx, "Ramesh Traders", "")
	require.NoError(t, err)

	customers, err := e.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 2)
}
