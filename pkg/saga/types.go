package saga

import "time"

// Type names one of the saga templates the engine knows how to run.
type Type string

const (
	TypeSale              Type = "SaleSaga"
	TypeOrder             Type = "OrderSaga"
	TypeStockUpdate       Type = "StockUpdateSaga"
	TypeChoreographedOrder Type = "ChoreographedOrder"
)

// TransitionEvent classifies why a SagaTransition was appended.
type TransitionEvent string

const (
	EventSuccess      TransitionEvent = "Success"
	EventFailure      TransitionEvent = "Failure"
	EventCompensation TransitionEvent = "Compensation"
)

// SagaRecord is the durable, SSS-owned record of one running or finished
// saga. It exclusively owns its Steps, Transitions and CompensationData;
// the event bus owns envelopes only after Publish returns.
type SagaRecord struct {
	SagaID           string
	SagaType         Type
	CurrentState     State
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	ErrorMessage     string
	CorrelationID    string
	Steps            []SagaStep
	Transitions      []SagaTransition
	CompensationData map[string]interface{}

	// HasCompensationFailures is set when any compensation in this saga's
	// run reported isSuccessful = false (§4.1.1, §8 boundary behaviors).
	HasCompensationFailures bool

	// lastCompensationResults caches the outcome of the most recent
	// compensation run against this record so a subsequent CompensateSaga
	// call on an already-Compensated saga can return the stored result
	// without re-deriving it from the transition log.
	lastCompensationResults []CompensationResult
}

// SagaStep is one ordered step of a saga's template, with its runtime
// status and the opaque data produced by its forward invocation.
type SagaStep struct {
	StepNumber       int
	StepName         string
	ServiceName      string
	Status           StepStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	FailedAt         *time.Time
	CompensatedAt    *time.Time
	StepData         map[string]interface{}
	CompensationData map[string]interface{}
	ErrorMessage     string
}

// SagaTransition is one append-only entry in a saga's transition log.
type SagaTransition struct {
	TransitionID  string
	SagaID        string
	FromState     State
	ToState       State
	ServiceName   string
	Action        string
	EventType     TransitionEvent
	Message       string
	Data          map[string]interface{}
	Timestamp     time.Time
}

// CompensationResult records the outcome of one compensation invocation.
type CompensationResult struct {
	StepName     string
	IsSuccessful bool
	ErrorMessage string
	Duration     time.Duration
}

// StepReport summarizes one executed step for the caller-facing SagaResult.
type StepReport struct {
	StepName     string
	ServiceName  string
	Status       StepStatus
	ErrorMessage string
}

// SagaResult is what every public SE operation returns.
type SagaResult struct {
	SagaID                  string
	IsSuccess               bool
	Steps                   []StepReport
	CompensationResults     []CompensationResult
	ErrorMessage            string
	CompletedAt             *time.Time
	HasCompensationFailures bool
}

// Money is a fixed-point amount in the platform's base currency unit,
// carried as cents to avoid floating-point drift across compensation
// round-trips.
type Money int64

// SaleItem describes one line item a saga operates on.
type SaleItem struct {
	ProductName string
	Quantity    int
	UnitPrice   float64
}

// CreateSaleRequest is the input to ExecuteSaleSaga.
type CreateSaleRequest struct {
	StoreID string
	Items   []SaleItem
}

// CreateOrderRequest is the input to ExecuteOrderSaga.
type CreateOrderRequest struct {
	CustomerID    string
	StoreID       string
	Items         []SaleItem
	PaymentMethod string
}

// StockOperation names the direction of a stock-update saga.
type StockOperation string

const (
	StockOperationIncrease StockOperation = "increase"
	StockOperationDecrease StockOperation = "decrease"
)

// StockUpdateRequest is the input to ExecuteStockUpdateSaga.
type StockUpdateRequest struct {
	ProductName string
	StoreID     string
	Quantity    int
	Operation   StockOperation
}
