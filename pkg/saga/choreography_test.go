package saga

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/director74/sagacore/pkg/sagalog"
	"github.com/director74/sagacore/pkg/sagametrics"
	"github.com/director74/sagacore/pkg/sagastore"
)

var choreographyTestNS int64

func newTestChoreographer(t *testing.T) *Choreographer {
	t.Helper()
	ns := "choreo_test_" + strconv.FormatInt(atomic.AddInt64(&choreographyTestNS, 1), 10)
	store := sagastore.NewInMemoryStore()
	metrics := sagametrics.New(ns)
	logger := sagalog.New("sagacore-test")
	return NewChoreographer(store, nil, metrics, logger, "sagacore-test")
}

func TestChoreographer_FullHappyPathReachesCompleted(t *testing.T) {
	c := newTestChoreographer(t)
	ctx := context.Background()
	orderID := "order-1"

	rec, err := c.HandleOrderCreated(ctx, orderID, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, rec.CurrentState)

	rec, err = c.HandleStockReserved(ctx, orderID, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StateStockReserving, rec.CurrentState)

	rec, err = c.HandlePaymentProcessed(ctx, orderID, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StatePaymentProcessed, rec.CurrentState)

	rec, err = c.HandleOrderConfirmed(ctx, orderID, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StateOrderConfirming, rec.CurrentState)

	rec, err = c.HandleNotificationSent(ctx, orderID, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.CurrentState)
	assert.NotNil(t, rec.CompletedAt)

	for _, s := range rec.Steps {
		assert.Equal(t, StepCompleted, s.Status, "step %s should be Completed", s.StepName)
	}

	transitions, err := c.store.GetTransitions(ctx, orderID)
	require.NoError(t, err)
	require.NotEmpty(t, transitions)
	for _, tr := range transitions {
		assert.NotEqual(t, tr.FromState, tr.ToState, "no persisted transition may be a same-state pair")
		assert.True(t, IsLegalTransition(tr.FromState, tr.ToState), "transition %s -> %s must be a legal edge", tr.FromState, tr.ToState)
	}
}

func TestChoreographer_RedeliveredEventIsIdempotent(t *testing.T) {
	c := newTestChoreographer(t)
	ctx := context.Background()
	orderID := "order-2"

	_, err := c.HandleOrderCreated(ctx, orderID, "corr-2")
	require.NoError(t, err)

	first, err := c.HandleStockReserved(ctx, orderID, "corr-2")
	require.NoError(t, err)

	second, err := c.HandleStockReserved(ctx, orderID, "corr-2")
	require.NoError(t, err)

	assert.Equal(t, first.CurrentState, second.CurrentState, "redelivering StockReservedEvent must not advance the state machine further")
}

func TestChoreographer_CancellationCompensatesAndReachesAborted(t *testing.T) {
	c := newTestChoreographer(t)
	ctx := context.Background()
	orderID := "order-3"

	_, err := c.HandleOrderCreated(ctx, orderID, "corr-3")
	require.NoError(t, err)
	_, err = c.HandleStockReserved(ctx, orderID, "corr-3")
	require.NoError(t, err)

	rec, err := c.HandleOrderCancelled(ctx, orderID, "corr-3")
	require.NoError(t, err)
	assert.Equal(t, StateCompensating, rec.CurrentState)

	// Every step that had reached Completed (OrderCreated, StockReserved)
	// must report its own compensation before the saga can move to Aborted.
	rec, err = c.HandleCompensationStepDone(ctx, orderID, "corr-3", "StockReserved")
	require.NoError(t, err)
	assert.Equal(t, StateCompensating, rec.CurrentState, "saga stays Compensating while OrderCreated has not yet been compensated")

	rec, err = c.HandleCompensationStepDone(ctx, orderID, "corr-3", "OrderCreated")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, rec.CurrentState)

	for _, s := range rec.Steps {
		if s.StepName == "StockReserved" || s.StepName == "OrderCreated" {
			assert.Equal(t, StepCompensated, s.Status)
		}
	}
}
