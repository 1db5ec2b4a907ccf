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

// Choreographer is the choreographed half of the Saga Engine (§4.1
// "Choreographed mode"): it never invokes a participant directly, only
// subscribes to the events participants publish and persists the resulting
// saga state. The five steps of a ChoreographedOrderSaga are OrderCreated,
// StockReserved, PaymentProcessed, OrderConfirmed and NotificationSent, in
// that fixed order; the saga's CurrentState walks the choreographed state
// chain (InProgress → StockVerifying → StockVerified → StockReserving →
// PaymentProcessing → PaymentProcessed → OrderConfirming → Completed) one
// legal edge at a time as each event lands, so every persisted transition
// still lands on a (fromState, toState) pair from the legal edge table
// even though a single event can retire several of that chain's steps at
// once.
//
// A choreographed saga is keyed by its order id: one order has exactly one
// saga, so the aggregateId on every participant event doubles as the
// sagaId, and no separate order-to-saga lookup index is needed.
type Choreographer struct {
	store       Store
	bus         *eventbus.Bus
	metrics     *sagametrics.Collector
	log         *sagalog.Logger
	serviceName string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewChoreographer wires a Choreographer against its collaborators.
func NewChoreographer(store Store, bus *eventbus.Bus, metrics *sagametrics.Collector, log *sagalog.Logger, serviceName string) *Choreographer {
	return &Choreographer{
		store:       store,
		bus:         bus,
		metrics:     metrics,
		log:         log,
		serviceName: serviceName,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (c *Choreographer) lockFor(sagaID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[sagaID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sagaID] = l
	}
	return l
}

// ChoreographedOrderSteps names the five step positions a choreographed
// order saga tracks, in the fixed order they must complete.
var ChoreographedOrderSteps = []string{
	"OrderCreated", "StockReserved", "PaymentProcessed", "OrderConfirmed", "NotificationSent",
}

// ChoreographedOrderSagaTemplate exists only for introspection
// (Template.Describe): the Choreographer never runs a template's
// Forward/Compensate, it reacts to events, so every step here carries no
// function bodies.
func ChoreographedOrderSagaTemplate() Template {
	steps := make([]Step, 0, len(ChoreographedOrderSteps))
	for _, name := range ChoreographedOrderSteps {
		steps = append(steps, Step{Name: name, ServiceName: serviceForChoreographedStep(name), CompensateOnError: true})
	}
	return Template{Type: TypeChoreographedOrder, Steps: steps}
}

func serviceForChoreographedStep(name string) string {
	switch name {
	case "OrderCreated", "OrderConfirmed":
		return "OrderService"
	case "StockReserved":
		return "StockService"
	case "PaymentProcessed":
		return "PaymentService"
	case "NotificationSent":
		return "NotificationService"
	default:
		return ""
	}
}

// choreographedChain is the full named-state walk a ChoreographedOrderSaga
// takes from its entry point to Completed.
var choreographedChain = []State{
	StateInProgress, StateStockVerifying, StateStockVerified, StateStockReserving,
	StatePaymentProcessing, StatePaymentProcessed, StateOrderConfirming, StateCompleted,
}

// advanceChain walks the saga's CurrentState forward one legal edge at a
// time from its current position up to (and including) target, appending
// one transition per hop so every logged (fromState, toState) pair is in
// the legal edge set (§8's quantified invariant) even when one event
// retires several chain positions in a single handler call.
func (c *Choreographer) advanceChain(ctx context.Context, sagaID, correlationID, serviceName, action string, target State) (SagaRecord, error) {
	var rec SagaRecord
	for {
		current, err := c.store.Get(ctx, sagaID)
		if err != nil {
			return SagaRecord{}, err
		}
		if current.CurrentState == target {
			return current, nil
		}

		idx := chainIndex(current.CurrentState)
		targetIdx := chainIndex(target)
		if idx < 0 || targetIdx < 0 || targetIdx <= idx {
			return SagaRecord{}, fmt.Errorf("cannot advance choreographed saga %s from %s to %s", sagaID, current.CurrentState, target)
		}
		next := choreographedChain[idx+1]

		rec, err = c.store.Update(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
			from := cur.CurrentState
			cur.CurrentState = next
			tr := SagaTransition{
				TransitionID: uuid.NewString(),
				SagaID:       sagaID,
				FromState:    from,
				ToState:      next,
				ServiceName:  serviceName,
				Action:       action,
				EventType:    EventSuccess,
				Timestamp:    time.Now().UTC(),
			}
			return cur, []SagaTransition{tr}, nil
		})
		if err != nil {
			return SagaRecord{}, err
		}
		c.metrics.StateTransitions.WithLabelValues(string(TypeChoreographedOrder), string(current.CurrentState), string(next), serviceName).Inc()
	}
}

func chainIndex(s State) int {
	for i, st := range choreographedChain {
		if st == s {
			return i
		}
	}
	return -1
}

// HandleOrderCreated creates the saga record for orderID, set to
// InProgress with OrderCreated already Completed (§4.1).
func (c *Choreographer) HandleOrderCreated(ctx context.Context, orderID, correlationID string) (SagaRecord, error) {
	lock := c.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	steps := make([]SagaStep, 0, len(ChoreographedOrderSteps))
	for i, name := range ChoreographedOrderSteps {
		steps = append(steps, SagaStep{StepNumber: i + 1, StepName: name, ServiceName: serviceForChoreographedStep(name), Status: StepPending})
	}

	rec, err := c.store.Create(ctx, orderID, TypeChoreographedOrder, steps, correlationID)
	if err != nil {
		return SagaRecord{}, err
	}
	c.metrics.SagasStarted.WithLabelValues(string(TypeChoreographedOrder)).Inc()
	c.metrics.ActiveSagas.WithLabelValues(string(TypeChoreographedOrder)).Inc()

	rec, err = c.store.Update(ctx, orderID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		cur.Steps[0].Status = StepCompleted
		now := time.Now().UTC()
		cur.Steps[0].CompletedAt = &now
		from := cur.CurrentState
		cur.CurrentState = StateInProgress
		return cur, []SagaTransition{{
			TransitionID: uuid.NewString(), SagaID: orderID, FromState: from, ToState: StateInProgress,
			ServiceName: "OrderService", Action: "OrderCreated", EventType: EventSuccess, Timestamp: time.Now().UTC(),
		}}, nil
	})
	if err != nil {
		return SagaRecord{}, err
	}

	c.log.Info(sagalog.Event("SagaStarted"), sagalog.Fields{SagaID: orderID, SagaType: string(TypeChoreographedOrder), ServiceName: c.serviceName, CorrelationID: correlationID}, "choreographed order saga started")
	return rec, nil
}

// handleStepEvent marks stepName Completed, advances CurrentState to
// chainTarget, and — when every step is now Completed — finishes the saga
// and publishes SagaCompleted.
func (c *Choreographer) handleStepEvent(ctx context.Context, sagaID, correlationID, stepName string, chainTarget State) (SagaRecord, error) {
	lock := c.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.advanceChain(ctx, sagaID, correlationID, serviceForChoreographedStep(stepName), stepName, chainTarget)
	if err != nil {
		return SagaRecord{}, err
	}

	rec, err = c.store.Update(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		now := time.Now().UTC()
		for i, s := range cur.Steps {
			if s.StepName == stepName {
				cur.Steps[i].Status = StepCompleted
				cur.Steps[i].CompletedAt = &now
			}
		}
		return cur, nil, nil
	})
	if err != nil {
		return SagaRecord{}, err
	}

	allDone := true
	for _, s := range rec.Steps {
		if s.Status != StepCompleted {
			allDone = false
			break
		}
	}
	if !allDone {
		return rec, nil
	}

	completedAt := time.Now().UTC()
	rec, err = c.store.Update(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		from := cur.CurrentState
		cur.CurrentState = StateCompleted
		cur.CompletedAt = &completedAt
		if from == StateCompleted {
			// advanceChain already logged the hop into Completed; a
			// Completed -> Completed pair is not a transition.
			return cur, nil, nil
		}
		return cur, []SagaTransition{{
			TransitionID: uuid.NewString(), SagaID: sagaID, FromState: from, ToState: StateCompleted,
			EventType: EventSuccess, Action: "complete", Timestamp: time.Now().UTC(),
		}}, nil
	})
	if err != nil {
		return SagaRecord{}, err
	}

	c.metrics.ActiveSagas.WithLabelValues(string(TypeChoreographedOrder)).Dec()
	c.metrics.SagasCompletedSuccess.WithLabelValues(string(TypeChoreographedOrder)).Inc()
	c.log.Info(sagalog.Event("SagaCompleted"), sagalog.Fields{SagaID: sagaID, SagaType: string(TypeChoreographedOrder), ServiceName: c.serviceName, CorrelationID: correlationID}, "choreographed order saga completed")
	c.publish("SagaCompleted", sagaID, correlationID, nil)
	return rec, nil
}

// HandleStockReserved advances through StockVerifying and StockVerified to
// StockReserving in a single call and marks StockReserved Completed.
func (c *Choreographer) HandleStockReserved(ctx context.Context, sagaID, correlationID string) (SagaRecord, error) {
	return c.handleStepEvent(ctx, sagaID, correlationID, "StockReserved", StateStockReserving)
}

// HandlePaymentProcessed advances past PaymentProcessing and marks
// PaymentProcessed Completed.
func (c *Choreographer) HandlePaymentProcessed(ctx context.Context, sagaID, correlationID string) (SagaRecord, error) {
	return c.handleStepEvent(ctx, sagaID, correlationID, "PaymentProcessed", StatePaymentProcessed)
}

// HandleOrderConfirmed advances to OrderConfirming and marks OrderConfirmed
// Completed.
func (c *Choreographer) HandleOrderConfirmed(ctx context.Context, sagaID, correlationID string) (SagaRecord, error) {
	return c.handleStepEvent(ctx, sagaID, correlationID, "OrderConfirmed", StateOrderConfirming)
}

// HandleNotificationSent advances to Completed and marks NotificationSent
// Completed; since it is always the fifth and last step, this call is what
// actually retires the saga.
func (c *Choreographer) HandleNotificationSent(ctx context.Context, sagaID, correlationID string) (SagaRecord, error) {
	return c.handleStepEvent(ctx, sagaID, correlationID, "NotificationSent", StateCompleted)
}

// HandleOrderCancelled reacts to OrderCancelledEvent (or any failure
// event): moves the saga to Compensating, not Failed, and emits
// SagaCompensationStartedEvent so participants can run their own
// compensations and emit StockReleasedEvent/PaymentRefundedEvent back
// (§4.1).
func (c *Choreographer) HandleOrderCancelled(ctx context.Context, sagaID, correlationID string) (SagaRecord, error) {
	lock := c.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Update(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		from := cur.CurrentState
		cur.CurrentState = StateCompensating
		return cur, []SagaTransition{{
			TransitionID: uuid.NewString(), SagaID: sagaID, FromState: from, ToState: StateCompensating,
			EventType: EventFailure, Action: "OrderCancelled", Timestamp: time.Now().UTC(),
		}}, nil
	})
	if err != nil {
		return SagaRecord{}, err
	}

	c.log.Warn(sagalog.Event("SagaCompensationStarted"), sagalog.Fields{SagaID: sagaID, SagaType: string(TypeChoreographedOrder), ServiceName: c.serviceName, CorrelationID: correlationID}, "order cancelled, starting choreographed compensation")
	c.publish("SagaCompensationStartedEvent", sagaID, correlationID, nil)
	return rec, nil
}

// HandleCompensationStepDone reacts to StockReleasedEvent/
// PaymentRefundedEvent: marks the matching previously-Completed step
// Compensated. When every step that had completed is now Compensated, the
// saga moves to Aborted and SagaCompensationCompletedEvent is published.
func (c *Choreographer) HandleCompensationStepDone(ctx context.Context, sagaID, correlationID, stepName string) (SagaRecord, error) {
	lock := c.lockFor(sagaID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Update(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		now := time.Now().UTC()
		for i, s := range cur.Steps {
			if s.StepName == stepName && s.Status == StepCompleted {
				cur.Steps[i].Status = StepCompensated
				cur.Steps[i].CompensatedAt = &now
			}
		}
		// No SagaTransition here: CurrentState stays Compensating while a
		// single step's compensation is recorded, and a same-state pair is
		// never a legal edge. The step's own Status/CompensatedAt capture
		// this attempt instead.
		return cur, nil, nil
	})
	if err != nil {
		return SagaRecord{}, err
	}

	allCompensated := true
	for _, s := range rec.Steps {
		if s.Status == StepCompleted {
			allCompensated = false
			break
		}
	}
	if !allCompensated {
		return rec, nil
	}

	rec, err = c.store.Update(ctx, sagaID, func(cur SagaRecord) (SagaRecord, []SagaTransition, error) {
		from := cur.CurrentState
		cur.CurrentState = StateAborted
		now := time.Now().UTC()
		cur.CompletedAt = &now
		return cur, []SagaTransition{{
			TransitionID: uuid.NewString(), SagaID: sagaID, FromState: from, ToState: StateAborted,
			EventType: EventCompensation, Action: "compensate", Timestamp: time.Now().UTC(),
		}}, nil
	})
	if err != nil {
		return SagaRecord{}, err
	}

	c.metrics.ActiveSagas.WithLabelValues(string(TypeChoreographedOrder)).Dec()
	c.metrics.SagasCompletedFailure.WithLabelValues(string(TypeChoreographedOrder), "order_cancelled").Inc()
	c.log.Info(sagalog.Event("SagaCompensationCompleted"), sagalog.Fields{SagaID: sagaID, SagaType: string(TypeChoreographedOrder), ServiceName: c.serviceName, CorrelationID: correlationID}, "choreographed compensation completed")
	c.publish("SagaCompensationCompletedEvent", sagaID, correlationID, nil)
	return rec, nil
}

func (c *Choreographer) publish(eventType, sagaID, correlationID string, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	env := eventbus.NewEnvelope(eventType, sagaID, "Saga", 1, data, eventbus.Metadata{CorrelationID: correlationID, SagaID: sagaID})
	if err := c.bus.Publish(env); err != nil {
		c.log.Error(sagalog.Event("PublishFailed"), sagalog.Fields{SagaID: sagaID, SagaType: string(TypeChoreographedOrder), ServiceName: c.serviceName, CorrelationID: correlationID}, err, "failed to publish event")
	}
}

// Subscribe wires every choreographed event the saga cares about to its
// handler. One queue is bound per topic under consumerGroup; each topic's
// handler dispatches on eventType since several of the events this saga
// reacts to share a topic (e.g. OrderCreatedEvent/OrderConfirmedEvent/
// OrderCancelledEvent all route through TopicOrders per TopicFor).
func (c *Choreographer) Subscribe(consumerGroup string) error {
	dispatch := map[string]func(eventbus.Envelope) error{
		"OrderCreatedEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleOrderCreated(context.Background(), e.AggregateID, e.Metadata.CorrelationID)
			return err
		},
		"StockReservedEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleStockReserved(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID)
			return err
		},
		"PaymentProcessedEvent": func(e eventbus.Envelope) error {
			_, err := c.HandlePaymentProcessed(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID)
			return err
		},
		"OrderConfirmedEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleOrderConfirmed(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID)
			return err
		},
		"NotificationSentEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleNotificationSent(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID)
			return err
		},
		"OrderCancelledEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleOrderCancelled(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID)
			return err
		},
		"StockReleasedEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleCompensationStepDone(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID, "StockReserved")
			return err
		},
		"PaymentRefundedEvent": func(e eventbus.Envelope) error {
			_, err := c.HandleCompensationStepDone(context.Background(), e.Metadata.SagaID, e.Metadata.CorrelationID, "PaymentProcessed")
			return err
		},
	}

	topics := []eventbus.Topic{eventbus.TopicOrders, eventbus.TopicInventory, eventbus.TopicPayments, eventbus.TopicBusiness}
	for _, topic := range topics {
		if err := c.bus.Subscribe(topic, consumerGroup, func(e eventbus.Envelope) error {
			handle, ok := dispatch[e.EventType]
			if !ok {
				// Not one of this saga's events; topics are shared streams
				// so an unrecognized eventType on a bound topic is expected
				// and silently ignored.
				return nil
			}
			return handle(e)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}
