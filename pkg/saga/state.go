package saga

// State is a saga's position in its state machine. The per-type, ordered
// set below is authoritative; anything presented to an operator as a single
// unified enum is a view derived from it, never persisted on its own.
type State string

const (
	StateStarted        State = "Started"
	StateStoreValidated  State = "StoreValidated"
	StateStockReserved   State = "StockReserved"
	StateTotalCalculated State = "TotalCalculated"
	StateSaleCreated     State = "SaleCreated"
	StateStockConfirmed  State = "StockConfirmed"
	StateCompleted       State = "Completed"
	StateFailed          State = "Failed"
	StateCompensating    State = "Compensating"
	StateCompensated     State = "Compensated"

	// Choreographed-only states.
	StateInProgress      State = "InProgress"
	StateStockVerifying  State = "StockVerifying"
	StateStockVerified   State = "StockVerified"
	StateStockReserving  State = "StockReserving"
	StatePaymentProcessing State = "PaymentProcessing"
	StatePaymentProcessed  State = "PaymentProcessed"
	StateOrderConfirming   State = "OrderConfirming"
	StateAborted           State = "Aborted"
)

// IsTerminal reports whether s is one of the end states (Completed,
// Compensated, Failed, Aborted).
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCompensated, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// legalEdges enumerates every (from, to) pair SE is allowed to persist. Any
// attempted transition outside this table is rejected as IllegalTransition
// and never written to the store (§4.1).
var legalEdges = map[State]map[State]bool{
	// StateStarted → StateStockConfirmed is StockUpdateSagaTemplate's lone
	// step: a single-service stock mutation has no store or sale to
	// validate in between, so it jumps straight to the same post-mutation
	// state the multi-step sagas reach at their last step.
	StateStoreValidated:  {StateStockReserved: true, StateCompensating: true},
	StateStockReserved:   {StateTotalCalculated: true, StateCompensating: true},
	StateTotalCalculated: {StateSaleCreated: true, StateCompensating: true},
	StateSaleCreated:     {StateStockConfirmed: true, StateCompensating: true},
	StateStockConfirmed:  {StateCompleted: true, StateCompensating: true},
	StateCompensating:    {StateCompensated: true, StateFailed: true, StateAborted: true},

	// StateStarted -> StateInProgress is the choreographed saga's entry
	// point, taken the moment OrderCreatedEvent arrives. StateStarted ->
	// StateCompleted is the zero-step saga, which finishes without running
	// any step.
	StateStarted:            {StateStoreValidated: true, StateStockConfirmed: true, StateInProgress: true, StateCompleted: true, StateCompensating: true},
	StateInProgress:        {StateStockVerifying: true, StateCompensating: true},
	StateStockVerifying:     {StateStockVerified: true, StateCompensating: true},
	StateStockVerified:      {StateStockReserving: true, StateCompensating: true},
	StateStockReserving:     {StatePaymentProcessing: true, StateCompensating: true},
	StatePaymentProcessing:  {StatePaymentProcessed: true, StateCompensating: true},
	StatePaymentProcessed:   {StateOrderConfirming: true, StateCompensating: true},
	StateOrderConfirming:    {StateCompleted: true, StateCompensating: true},
}

// IsLegalTransition reports whether advancing a saga from `from` to `to` is
// permitted. Re-entering a terminal saga for an operator-driven
// CompensateSaga (see open question in SPEC_FULL.md §13) is handled by the
// engine, not by this table: the table only governs forward/compensating
// progress, and {Completed, Compensated, Failed} → Compensating is always
// legal so that path can proceed — Failed specifically so an operator can
// re-issue CompensateSaga after a partial compensation failure (§4.1.1,
// §7) without automatic retry ever kicking in on its own.
func IsLegalTransition(from, to State) bool {
	if from == to {
		return false
	}
	if (from == StateCompleted || from == StateCompensated || from == StateFailed) && to == StateCompensating {
		return true
	}
	edges, ok := legalEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// StepStatus is a single step's lifecycle within its saga.
type StepStatus string

const (
	StepPending     StepStatus = "Pending"
	StepInProgress  StepStatus = "InProgress"
	StepCompleted   StepStatus = "Completed"
	StepFailed      StepStatus = "Failed"
	StepCompensated StepStatus = "Compensated"
)

// legalStepEdges mirrors the step-level transition table: Pending→InProgress
// →{Completed|Failed}; Completed→Compensated; nothing else.
var legalStepEdges = map[StepStatus]map[StepStatus]bool{
	StepPending:    {StepInProgress: true},
	StepInProgress: {StepCompleted: true, StepFailed: true},
	StepCompleted:  {StepCompensated: true},
}

func IsLegalStepTransition(from, to StepStatus) bool {
	edges, ok := legalStepEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// UnifiedView collapses the per-type state enum into the coarse phase an
// operator dashboard cares about; it is a presentation-layer function only
// and is never persisted (§13 open question decision).
func UnifiedView(s State) string {
	switch s {
	case StateStarted, StateInProgress:
		return "Started"
	case StateStoreValidated, StateStockReserved, StateTotalCalculated, StateSaleCreated,
		StateStockVerifying, StateStockVerified, StateStockReserving,
		StatePaymentProcessing, StatePaymentProcessed, StateOrderConfirming:
		return "InProgress"
	case StateStockConfirmed:
		return "InProgress"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCompensating:
		return "Compensating"
	case StateCompensated, StateAborted:
		return "Compensated"
	default:
		return string(s)
	}
}
