package saga

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/director74/sagacore/pkg/sagalog"
	"github.com/director74/sagacore/pkg/sagametrics"
	"github.com/director74/sagacore/pkg/sagastore"
)

var engineTestNS int64

// newTestEngine wires an Engine against an in-memory store with a fresh
// metrics namespace per test so promauto's default registry never sees a
// duplicate metric name across table tests.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ns := "saga_test_" + strconv.FormatInt(atomic.AddInt64(&engineTestNS, 1), 10)
	store := sagastore.NewInMemoryStore()
	metrics := sagametrics.New(ns)
	logger := sagalog.New("sagacore-test")
	return NewEngine(store, nil, metrics, logger, "sagacore-test", nil)
}

func twoStepTemplate(forward2Err, compensate1Err error) Template {
	return Template{
		Type: TypeSale,
		Steps: []Step{
			{
				Name:              "StepOne",
				ServiceName:       "SvcOne",
				ExpectedPrevState: StateStarted,
				ExpectedPostState: StateStoreValidated,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					return map[string]interface{}{"one": true}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					return compensate1Err
				},
			},
			{
				Name:              "StepTwo",
				ServiceName:       "SvcTwo",
				ExpectedPrevState: StateStoreValidated,
				ExpectedPostState: StateStockReserved,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					if forward2Err != nil {
						return nil, forward2Err
					}
					return map[string]interface{}{"two": true}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					return nil
				},
			},
		},
	}
}

func TestEngine_Run_Success(t *testing.T) {
	e := newTestEngine(t)
	tmpl := twoStepTemplate(nil, nil)
	e.RegisterTemplate(TypeSale, func() Template { return tmpl })

	result, err := e.run(context.Background(), TypeSale, tmpl, nil, "corr-1")
	require.NoError(t, err)
	assert.True(t, result.IsSuccess)
	assert.Empty(t, result.CompensationResults)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.CurrentState)
	for _, s := range rec.Steps {
		assert.Equal(t, StepCompleted, s.Status)
	}
}

func TestEngine_Run_ZeroStepSagaCompletesImmediately(t *testing.T) {
	e := newTestEngine(t)
	tmpl := Template{Type: TypeStockUpdate, Steps: nil}

	result, err := e.run(context.Background(), TypeStockUpdate, tmpl, nil, "corr-zero")
	require.NoError(t, err)
	assert.True(t, result.IsSuccess)
	assert.Empty(t, result.Steps)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.CurrentState)
}

func TestEngine_Run_StepFailureTriggersCompensation(t *testing.T) {
	e := newTestEngine(t)
	tmpl := twoStepTemplate(errors.New("boom"), nil)

	result, err := e.run(context.Background(), TypeSale, tmpl, nil, "corr-2")
	require.NoError(t, err)
	assert.False(t, result.IsSuccess)
	require.Len(t, result.CompensationResults, 1)
	assert.Equal(t, "StepOne", result.CompensationResults[0].StepName)
	assert.True(t, result.CompensationResults[0].IsSuccessful)
	assert.False(t, result.HasCompensationFailures)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StateCompensated, rec.CurrentState)

	transitions, err := e.store.GetTransitions(context.Background(), result.SagaID)
	require.NoError(t, err)
	require.NotEmpty(t, transitions)
	for _, tr := range transitions {
		assert.NotEqual(t, tr.FromState, tr.ToState, "no persisted transition may be a same-state pair")
		assert.True(t, IsLegalTransition(tr.FromState, tr.ToState), "transition %s -> %s must be a legal edge", tr.FromState, tr.ToState)
	}
}

func TestEngine_Run_CompensationFailureLeavesSagaFailed(t *testing.T) {
	e := newTestEngine(t)
	tmpl := twoStepTemplate(errors.New("boom"), errors.New("cannot undo step one"))

	result, err := e.run(context.Background(), TypeSale, tmpl, nil, "corr-3")
	require.NoError(t, err)
	assert.False(t, result.IsSuccess)
	assert.True(t, result.HasCompensationFailures)
	require.Len(t, result.CompensationResults, 1)
	assert.False(t, result.CompensationResults[0].IsSuccessful)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.CurrentState)
}

func TestEngine_CompensateSaga_OnCompletedSagaIsOperatorDriven(t *testing.T) {
	e := newTestEngine(t)
	tmpl := twoStepTemplate(nil, nil)
	e.RegisterTemplate(TypeSale, func() Template { return tmpl })

	result, err := e.run(context.Background(), TypeSale, tmpl, nil, "corr-4")
	require.NoError(t, err)
	require.True(t, result.IsSuccess)

	compResult, err := e.CompensateSaga(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.False(t, compResult.HasCompensationFailures)
	require.Len(t, compResult.CompensationResults, 2)

	rec, err := e.store.Get(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StateCompensated, rec.CurrentState)
}

func TestEngine_CompensateSaga_OnAlreadyCompensatedReturnsStoredResult(t *testing.T) {
	e := newTestEngine(t)
	tmpl := twoStepTemplate(errors.New("boom"), nil)

	result, err := e.run(context.Background(), TypeSale, tmpl, nil, "corr-5")
	require.NoError(t, err)
	require.False(t, result.IsSuccess)

	e.RegisterTemplate(TypeSale, func() Template { return tmpl })
	again, err := e.CompensateSaga(context.Background(), result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, result.CompensationResults, again.CompensationResults)
}

func TestEngine_CompensateSaga_ConcurrentCallsAreSerialized(t *testing.T) {
	e := newTestEngine(t)
	var compensateCalls int32
	var mu sync.Mutex
	tmpl := Template{
		Type: TypeSale,
		Steps: []Step{
			{
				Name:              "Reserve",
				ServiceName:       "SvcOne",
				ExpectedPrevState: StateStarted,
				ExpectedPostState: StateStockConfirmed,
				CompensateOnError: true,
				Forward: func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error) {
					return map[string]interface{}{}, nil
				},
				Compensate: func(ctx StepContext, data map[string]interface{}) error {
					mu.Lock()
					compensateCalls++
					mu.Unlock()
					time.Sleep(5 * time.Millisecond)
					return nil
				},
			},
		},
	}
	e.RegisterTemplate(TypeSale, func() Template { return tmpl })

	result, err := e.run(context.Background(), TypeSale, tmpl, nil, "corr-6")
	require.NoError(t, err)
	require.True(t, result.IsSuccess)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.CompensateSaga(context.Background(), result.SagaID)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), compensateCalls, "only the first CompensateSaga call should actually run compensation; the rest observe the already-Compensated state")
}

func TestEngine_ExecuteSaleSaga_ValidationRejectsBeforeCreatingSaga(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ExecuteSaleSaga(context.Background(), CreateSaleRequest{}, "corr-7")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	all, err := e.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
