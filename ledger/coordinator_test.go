package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khata/ledger-engine/ledger"
	"github.com/khata/ledger-engine/ledger/store"
)

// slowStore delays every transaction commit, widening the window in which
// a concurrent read could observe a half-applied mutation.
type slowStore struct {
	*store.Memory
	delay time.Duration
}

func newSlowStore(delay time.Duration) *slowStore {
	return &slowStore{Memory: store.NewMemory(), delay: delay}
}

func (s *slowStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx ledger.Store) error {
		time.Sleep(s.delay)
		return fn(tx)
	})
}

// =============================================================================
// SERIALIZATION TESTS
// =============================================================================

func TestCoordinator_ConcurrentRecords_NoLostUpdate(t *testing.T) {
	// GIVEN: 20 goroutines each recording a 10-rupee bill for one customer
	// WHEN: All complete
	// THEN: Balance is exactly 200 and sequences are 1..20 with no gaps

	e, _ := newTestEngine(t)
	c := newTestCustomer(t, e)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "10")}, "0"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertBalance(t, e, c.ID, "200")

	chain, err := e.History(ctx, c.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, chain, n)
	for i, tx := range chain {
		assert.Equal(t, int64(i+1), tx.Sequence)
	}
}

func TestCoordinator_DifferentCustomers_Independent(t *testing.T) {
	// GIVEN: One customer's gate held by a slow mutation
	// WHEN: Another customer records a transaction
	// THEN: The second customer is never blocked

	coord := ledger.NewCoordinator(ledger.DefaultLockTimeout)
	ctx := context.Background()

	release, err := coord.Acquire(ctx, "customer-a")
	require.NoError(t, err)
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := coord.Do(ctx, "customer-b", func() error { return nil })
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("customer-b blocked behind customer-a's gate")
	}
}

// =============================================================================
// BOUNDED WAIT TESTS
// =============================================================================

func TestCoordinator_HeldGate_TimesOutWithBusy(t *testing.T) {
	// GIVEN: A gate held beyond the coordinator's timeout
	// WHEN: A second caller tries to acquire it
	// THEN: It fails with ErrBusy instead of queuing indefinitely

	coord := ledger.NewCoordinator(50 * time.Millisecond)
	ctx := context.Background()

	release, err := coord.Acquire(ctx, "customer-a")
	require.NoError(t, err)
	defer release()

	_, err = coord.Acquire(ctx, "customer-a")
	assert.ErrorIs(t, err, ledger.ErrBusy)
	assert.True(t, ledger.IsRetryable(err))
}

func TestCoordinator_CanceledContext_ReturnsContextError(t *testing.T) {
	coord := ledger.NewCoordinator(time.Minute)

	release, err := coord.Acquire(context.Background(), "customer-a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = coord.Acquire(ctx, "customer-a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoordinator_ReleasedGate_Reacquirable(t *testing.T) {
	coord := ledger.NewCoordinator(50 * time.Millisecond)
	ctx := context.Background()

	release, err := coord.Acquire(ctx, "customer-a")
	require.NoError(t, err)
	release()

	err = coord.Do(ctx, "customer-a", func() error { return nil })
	assert.NoError(t, err)
}

// =============================================================================
// READ-AFTER-WRITE TESTS
// =============================================================================

func TestCurrentBalance_WaitsForInFlightMutation(t *testing.T) {
	// GIVEN: An engine whose store commits slowly while holding the gate
	// WHEN: CurrentBalance is called mid-mutation
	// THEN: The read resolves after the mutation and observes its effect

	mem := newSlowStore(25 * time.Millisecond)
	e := ledger.NewEngine(mem)
	ctx := context.Background()

	c, err := e.CreateCustomer(ctx, "Ramesh Traders", "")
	require.NoError(t, err)

	started := make(chan struct{})
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		close(started)
		_, err := e.RecordTransaction(ctx, c.ID, cashSale([]ledger.LineItem{item("rice", "1", "100")}, "0"))
		assert.NoError(t, err)
	}()

	<-started
	time.Sleep(5 * time.Millisecond) // let the mutation take the gate

	balance, err := e.CurrentBalance(ctx, c.ID)
	require.NoError(t, err)

	<-recorded
	assert.True(t, rupees("100").Equal(balance),
		"read acknowledged after the write must observe it, got %s", balance)
}
