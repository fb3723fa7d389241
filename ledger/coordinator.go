/*
coordinator.go - Per-customer serialization of chain mutations

PURPOSE:
  Guarantees that two mutating operations on the same customer never
  interleave their read-modify-write of the balance chain, and that a
  balance read issued after a mutation's acknowledgment observes that
  mutation's effect, from any session.

MECHANISM:
  One gate (a 1-slot channel) per customer, created lazily in a map
  guarded by a mutex. Mutations hold the gate for the duration of one
  commit; reads through the query facade take the same gate briefly, so
  they drain any in-flight mutation before resolving against the store.
  Two customers' gates are independent and proceed in parallel.

BOUNDED WAIT:
  Acquisition is bounded by a timeout (and the caller's context). A
  caller that cannot get the gate in time fails with ErrBusy rather than
  queuing indefinitely, and retries with backoff.

  In-process the gate alone serializes writers; the chain-version check
  in Store.UpdateCustomerBalance additionally catches writers from other
  processes sharing the same database.
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a mutation waits for a customer gate.
const DefaultLockTimeout = 5 * time.Second

// Coordinator hands out per-customer serialization gates.
type Coordinator struct {
	mu      sync.Mutex
	gates   map[CustomerID]chan struct{}
	timeout time.Duration
}

// NewCoordinator creates a coordinator. A non-positive timeout falls back
// to DefaultLockTimeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Coordinator{
		gates:   make(map[CustomerID]chan struct{}),
		timeout: timeout,
	}
}

func (c *Coordinator) gate(id CustomerID) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.gates[id]
	if !ok {
		g = make(chan struct{}, 1)
		c.gates[id] = g
	}
	return g
}

// Acquire takes the customer's gate, blocking up to the configured
// timeout. The returned release function must be called exactly once.
func (c *Coordinator) Acquire(ctx context.Context, id CustomerID) (func(), error) {
	g := c.gate(id)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case g <- struct{}{}:
		return func() { <-g }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		lockTimeoutsTotal.Inc()
		return nil, ErrBusy
	}
}

// Do runs fn while holding the customer's gate.
func (c *Coordinator) Do(ctx context.Context, id CustomerID, fn func() error) error {
	release, err := c.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
