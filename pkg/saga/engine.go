package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/director74/sagacore/pkg/eventbus"
	"github.com/director74/sagacore/pkg/sagalog"
	"github.com/director74/sagacore/pkg/sagametrics"
)

// Engine is the Saga Engine (SE): it runs templates to completion or
// compensation, persists every transition, emits events and metrics, and
// serializes concurrent advances on the same saga (§4.1, §5).
type Engine struct {
	store        Store
	bus          *eventbus.Bus
	metrics      *sagametrics.Collector
	log          *sagalog.Logger
	serviceName  string
	retryBackoff []time.Duration

	templates map[Type]func() Template

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine wires an Engine against its collaborators. Templates are added
// afterwards with RegisterTemplate, whose factory builds a fresh Template
// per execution.
func NewEngine(store Store, bus *eventbus.Bus, metrics *sagametrics.Collector, log *sagalog.Logger, serviceName string, retryBackoff []time.Duration) *Engine {
	return &Engine{
		store:        store,
		bus:          bus,
		metrics:      metrics,
		log:          log,
		serviceName:  serviceName,
		retryBackoff: retryBackoff,
		templates:    make(map[Type]func() Template),
		locks:        make(map[string]*sync.Mutex),
	}
}

// RegisterTemplate associates a saga type with a factory that produces a
// fresh Template instance per run.
func (e *Engine) RegisterTemplate(t Type, factory func() Template) {
	e.templates[t] = factory
}

func (e *Engine) lockFor(sagaID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[sagaID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sagaID] = l
	}
	return l
}

// run is the orchestrated execution algorithm (§4.1 steps 1-3). It is
// shared by ExecuteSaleSaga/ExecuteOrderSaga/ExecuteStockUpdateSaga, which
// differ only in the template and initial data they supply.
func (e *Engine) run(ctx context.Context, sagaType Type, template Template, initialData map[string]interface{}, correlationID string) (SagaResult, error) {
	sagaID := uuid.NewString()
	if correlationID == "" {
		correlationID = sagaID
	}

	lock := e.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	steps := make([]SagaStep, 0, len(template.Steps))
	for i, s := range template.Steps {
		steps = append(steps, SagaStep{
			StepNumber:  i + 1,
			StepName:    s.Name,
			ServiceName: s.ServiceName,
			Status:      StepPending,
		})
	}

	rec, err := e.store.Create(ctx, sagaID, sagaType, steps, correlationID)
	if err != nil {
		return SagaResult{}, fmt.Errorf("create saga %s: %w", sagaID, err)
	}

	e.metrics.SagasStarted.WithLabelValues(string(sagaType)).Inc()
	e.metrics.ActiveSagas.WithLabelValues(string(sagaType)).Inc()
	defer e.metrics.ActiveSagas.WithLabelValues(string(sagaType)).Dec()

	start := time.Now()
	e.log.Info(sagalog.Event("SagaStarted"), sagalog.Fields{SagaID: sagaID, SagaType: string(sagaType), ServiceName: e.serviceName, CorrelationID: correlationID}, "saga started")
	e.publish("SagaStarted", sagaID, sagaType, correlationID, nil)

	// Zero-step saga: immediately Completed, no compensations (§8).
	if len(template.Steps) == 0 {
		now := time.Now().UTC()
		rec, err = e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
			cur.CurrentState = StateCompleted
			cur.CompletedAt = &now
			return cur, []SagaTransition{e.transition(sagaID, rec.CurrentState, StateCompleted, "", "complete", EventSuccess, "", nil)}, nil
		})
		if err != nil {
			return SagaResult{}, err
		}
		e.finish(sagaType, start, true)
		return e.toResult(rec, nil), nil
	}

	data := initialData
	compensationStack := make([]compensationEntry, 0, len(template.Steps))

	for i, step := range template.Steps {
		stepStart := time.Now()
		stepCtx := StepContext{Context: ctx, SagaID: sagaID, CorrelationID: correlationID}

		now := time.Now().UTC()
		fromState := rec.CurrentState
		rec, err = e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
			cur.Steps[i].Status = StepInProgress
			cur.Steps[i].StartedAt = &now
			return cur, nil, nil
		})
		if err != nil {
			return SagaResult{}, err
		}

		e.metrics.StepTotal.WithLabelValues(string(sagaType), step.Name, step.ServiceName).Inc()
		stepData, stepErr := step.Forward(stepCtx, data)
		stepStatus := "success"
		if stepErr != nil {
			stepStatus = "failure"
		}
		e.metrics.StepDuration.WithLabelValues(string(sagaType), step.Name, step.ServiceName, stepStatus).Observe(time.Since(stepStart).Seconds())

		if stepErr != nil {
			completedNow := time.Now().UTC()
			e.metrics.StepFailure.WithLabelValues(string(sagaType), step.Name, step.ServiceName, fmt.Sprintf("%T", stepErr)).Inc()

			rec, err = e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
				cur.Steps[i].Status = StepFailed
				cur.Steps[i].FailedAt = &completedNow
				cur.Steps[i].ErrorMessage = stepErr.Error()
				cur.CurrentState = StateCompensating
				cur.ErrorMessage = stepErr.Error()
				tr := e.transition(sagaID, fromState, StateCompensating, step.ServiceName, step.Name, EventFailure, stepErr.Error(), nil)
				return cur, []SagaTransition{tr}, nil
			})
			if err != nil {
				return SagaResult{}, err
			}

			e.log.Warn(sagalog.Event("StepFailed"), sagalog.Fields{SagaID: sagaID, SagaType: string(sagaType), ServiceName: step.ServiceName, CorrelationID: correlationID, Data: map[string]interface{}{"step": step.Name, "error": stepErr.Error()}}, "step failed")
			e.publish("StepFailed", sagaID, sagaType, correlationID, map[string]interface{}{"step": step.Name, "error": stepErr.Error()})

			var compensationResults []CompensationResult
			rec, compensationResults = e.compensate(ctx, sagaID, sagaType, template, compensationStack, correlationID, rec)
			e.finish(sagaType, start, false)
			return e.toResult(rec, compensationResults), nil
		}

		e.metrics.StepSuccess.WithLabelValues(string(sagaType), step.Name, step.ServiceName).Inc()

		if step.CompensateOnError && step.Compensate != nil {
			// The pushed payload is exactly what Forward returned, not the
			// cumulative merge: a step's compensation must be rederivable
			// from the template plus its own stepData alone (§9design
			// notes), since a manual CompensateSaga replay after restart
			// only has recStep.StepData to work with, never the live
			// in-memory accumulator.
			compensationStack = append(compensationStack, compensationEntry{step: step, data: stepData})
		}

		data = mergeData(data, stepData)

		completedNow := time.Now().UTC()
		toState := step.ExpectedPostState
		rec, err = e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
			cur.Steps[i].Status = StepCompleted
			cur.Steps[i].CompletedAt = &completedNow
			cur.Steps[i].StepData = stepData
			cur.CurrentState = toState
			tr := e.transition(sagaID, fromState, toState, step.ServiceName, step.Name, EventSuccess, "", stepData)
			return cur, []SagaTransition{tr}, nil
		})
		if err != nil {
			return SagaResult{}, err
		}

		e.metrics.StateTransitions.WithLabelValues(string(sagaType), string(fromState), string(toState), step.ServiceName).Inc()
		e.publish("StepCompleted", sagaID, sagaType, correlationID, map[string]interface{}{"step": step.Name})
	}

	completedAt := time.Now().UTC()
	rec, err = e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		fromState := cur.CurrentState
		cur.CurrentState = StateCompleted
		cur.CompletedAt = &completedAt
		tr := e.transition(sagaID, fromState, StateCompleted, "", "complete", EventSuccess, "", nil)
		return cur, []SagaTransition{tr}, nil
	})
	if err != nil {
		return SagaResult{}, err
	}

	e.log.Info(sagalog.Event("SagaCompleted"), sagalog.Fields{SagaID: sagaID, SagaType: string(sagaType), ServiceName: e.serviceName, CorrelationID: correlationID}, "saga completed")
	e.publish("SagaCompleted", sagaID, sagaType, correlationID, nil)
	e.finish(sagaType, start, true)

	return e.toResult(rec, nil), nil
}

type compensationEntry struct {
	step Step
	data map[string]interface{}
}

// compensate implements the LIFO, best-effort compensation algorithm
// (§4.1.1): popping the stack in reverse order, recording each attempt
// whether it succeeds or fails, and never aborting the remaining
// compensations because one failed.
func (e *Engine) compensate(ctx context.Context, sagaID string, sagaType Type, template Template, stack []compensationEntry, correlationID string, rec SagaRecord) (SagaRecord, []CompensationResult) {
	results := make([]CompensationResult, 0, len(stack))
	anyFailed := false

	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		stepCtx := StepContext{Context: ctx, SagaID: sagaID, CorrelationID: correlationID}

		compStart := time.Now()
		err := entry.step.Compensate(stepCtx, entry.data)
		duration := time.Since(compStart)

		e.metrics.CompensationTotal.WithLabelValues(string(sagaType), entry.step.Name, entry.step.ServiceName).Inc()

		result := CompensationResult{StepName: entry.step.Name, Duration: duration}
		if err != nil {
			result.IsSuccessful = false
			result.ErrorMessage = err.Error()
			anyFailed = true
			e.metrics.CompensationFailure.WithLabelValues(string(sagaType), entry.step.Name, entry.step.ServiceName).Inc()
			e.log.Error(sagalog.Event("CompensationFailed"), sagalog.Fields{SagaID: sagaID, SagaType: string(sagaType), ServiceName: entry.step.ServiceName, CorrelationID: correlationID}, err, "compensation failed")
		} else {
			result.IsSuccessful = true
			e.metrics.CompensationSuccess.WithLabelValues(string(sagaType), entry.step.Name, entry.step.ServiceName).Inc()
		}
		results = append(results, result)

		var stepIdx int
		for idx, s := range rec.Steps {
			if s.StepName == entry.step.Name {
				stepIdx = idx
				break
			}
		}

		next, uerr := e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
			cur.Steps[stepIdx].Status = StepCompensated
			now := time.Now().UTC()
			cur.Steps[stepIdx].CompensatedAt = &now
			if err != nil {
				cur.HasCompensationFailures = true
			}
			// No SagaTransition here: the saga's CurrentState does not
			// change while a single step's compensation result is
			// recorded, and a same-state pair is never a legal edge
			// (IsLegalTransition rejects from == to). The step's own
			// Status/CompensatedAt fields already capture this attempt.
			return cur, nil, nil
		})
		if uerr == nil {
			rec = next
		}

		e.publish("CompensationAttempted", sagaID, sagaType, correlationID, map[string]interface{}{"step": entry.step.Name, "success": result.IsSuccessful})
	}

	finalState := StateCompensated
	if anyFailed {
		finalState = StateFailed
	}

	next, err := e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		fromState := cur.CurrentState
		cur.CurrentState = finalState
		now := time.Now().UTC()
		cur.CompletedAt = &now
		cur.lastCompensationResults = results
		tr := e.transition(sagaID, fromState, finalState, "", "compensate", EventCompensation, "", nil)
		return cur, []SagaTransition{tr}, nil
	})
	if err == nil {
		rec = next
	}

	rec.lastCompensationResults = results
	return rec, results
}

// CompensateSaga reverses a saga's completed steps. It is valid on a saga
// already in Completed (an operator-driven recovery path, see SPEC_FULL.md
// §13) as well as one stuck in Compensating after a failure. Calling it on
// a saga already Compensated returns the stored result unchanged (§4.1,
// §8).
func (e *Engine) CompensateSaga(ctx context.Context, sagaID string) (SagaResult, error) {
	lock := e.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.store.Get(ctx, sagaID)
	if err != nil {
		return SagaResult{}, fmt.Errorf("get saga %s: %w", sagaID, err)
	}

	if rec.CurrentState == StateCompensated {
		return e.toResult(rec, nil), nil
	}

	factory, ok := e.templates[rec.SagaType]
	if !ok {
		return SagaResult{}, fmt.Errorf("no template registered for saga type %s", rec.SagaType)
	}
	template := factory()

	if rec.CurrentState != StateCompensating {
		rec, err = e.updateWithRetry(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
			fromState := cur.CurrentState
			cur.CurrentState = StateCompensating
			tr := e.transition(sagaID, fromState, StateCompensating, "", "manual-compensate", EventCompensation, "operator-driven compensation", nil)
			return cur, []SagaTransition{tr}, nil
		})
		if err != nil {
			return SagaResult{}, err
		}
		e.log.Warn(sagalog.Event("ManualCompensation"), sagalog.Fields{SagaID: sagaID, SagaType: string(rec.SagaType), ServiceName: e.serviceName}, "operator requested compensation of a non-failed saga")
	}

	stack := make([]compensationEntry, 0, len(rec.Steps))
	for _, recStep := range rec.Steps {
		// A step that already shows Compensated is included too: a prior
		// compensation pass may have failed partway through (§4.1.1), and
		// since compensations must be idempotent (§8) a retry re-running
		// every originally-forward-completed step is the only way an
		// operator-issued CompensateSaga can actually fix a stuck Failed
		// saga rather than finding nothing left to do.
		if recStep.Status != StepCompleted && recStep.Status != StepCompensated {
			continue
		}
		for _, tmplStep := range template.Steps {
			if tmplStep.Name == recStep.StepName && tmplStep.CompensateOnError && tmplStep.Compensate != nil {
				stack = append(stack, compensationEntry{step: tmplStep, data: recStep.StepData})
			}
		}
	}

	rec, compensationResults := e.compensate(ctx, sagaID, rec.SagaType, template, stack, rec.CorrelationID, rec)
	return e.toResult(rec, compensationResults), nil
}

func (e *Engine) updateWithRetry(ctx context.Context, sagaID string, mutate Mutation) (SagaRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= len(e.retryBackoff); attempt++ {
		rec, err := e.store.Update(ctx, sagaID, mutate)
		if err == nil {
			return rec, nil
		}
		if err == ErrStoreIllegalTransition {
			return SagaRecord{}, err
		}
		lastErr = err
		if attempt < len(e.retryBackoff) {
			time.Sleep(e.retryBackoff[attempt])
		}
	}
	return SagaRecord{}, fmt.Errorf("update saga %s failed after retries: %w", sagaID, lastErr)
}

func (e *Engine) transition(sagaID string, from, to State, serviceName, action string, eventType TransitionEvent, message string, data map[string]interface{}) SagaTransition {
	return SagaTransition{
		TransitionID: uuid.NewString(),
		SagaID:       sagaID,
		FromState:    from,
		ToState:      to,
		ServiceName:  serviceName,
		Action:       action,
		EventType:    eventType,
		Message:      message,
		Data:         data,
		Timestamp:    time.Now().UTC(),
	}
}

func (e *Engine) publish(eventType, sagaID string, sagaType Type, correlationID string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	env := eventbus.NewEnvelope(eventType, sagaID, "Saga", 1, data, eventbus.Metadata{CorrelationID: correlationID, SagaID: sagaID})
	if err := e.bus.Publish(env); err != nil {
		e.log.Error(sagalog.Event("PublishFailed"), sagalog.Fields{SagaID: sagaID, SagaType: string(sagaType), ServiceName: e.serviceName, CorrelationID: correlationID}, err, "failed to publish event")
	}
}

func (e *Engine) finish(sagaType Type, start time.Time, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	e.metrics.SagaDuration.WithLabelValues(string(sagaType), status).Observe(time.Since(start).Seconds())
	if success {
		e.metrics.SagasCompletedSuccess.WithLabelValues(string(sagaType)).Inc()
	} else {
		e.metrics.SagasCompletedFailure.WithLabelValues(string(sagaType), "step_failure").Inc()
	}
}

func (e *Engine) toResult(rec SagaRecord, compensationResults []CompensationResult) SagaResult {
	steps := make([]StepReport, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		steps = append(steps, StepReport{StepName: s.StepName, ServiceName: s.ServiceName, Status: s.Status, ErrorMessage: s.ErrorMessage})
	}

	if compensationResults == nil {
		compensationResults = rec.lastCompensationResults
	}

	return SagaResult{
		SagaID:                  rec.SagaID,
		IsSuccess:               rec.CurrentState == StateCompleted,
		Steps:                   steps,
		CompensationResults:     compensationResults,
		ErrorMessage:            rec.ErrorMessage,
		CompletedAt:             rec.CompletedAt,
		HasCompensationFailures: rec.HasCompensationFailures,
	}
}

func mergeData(base, update map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}
