package saga

import "context"

// StepContext is handed to every forward/compensate function so a
// participant can consult the correlation id, the saga id, and (through the
// embedded context.Context) a deadline and cancellation signal (§5).
type StepContext struct {
	context.Context
	SagaID        string
	CorrelationID string
}

// Step is one ordered entry of a saga template (§4.1). Forward performs the
// step's work and returns the data to persist on success; the state the
// saga then moves to is the step's ExpectedPostState. Compensate is the
// pure, idempotent inverse of a successful Forward; steps with
// CompensateOnError = false (e.g. ValidateStore or ConfirmStock) have a nil
// Compensate and are never pushed onto the compensation stack.
type Step struct {
	Name               string
	ServiceName        string
	ExpectedPrevState  State
	ExpectedPostState  State
	CompensateOnError  bool
	Forward            func(ctx StepContext, data map[string]interface{}) (map[string]interface{}, error)
	Compensate         func(ctx StepContext, data map[string]interface{}) error
}

// Template is an ordered, immutable list of Steps. The same template run
// twice with the same input produces the same step sequence (§4.1); the
// Step functions close over the participant services the template is built
// with, and request data reaches them only through the data map.
type Template struct {
	Type  Type
	Steps []Step
}

// Describe returns the step names and services in order, so a saga type can
// be introspected without running it.
func (t Template) Describe() []StepDescriptor {
	out := make([]StepDescriptor, 0, len(t.Steps))
	for i, s := range t.Steps {
		out = append(out, StepDescriptor{
			StepNumber:        i + 1,
			Name:              s.Name,
			ServiceName:       s.ServiceName,
			CompensateOnError: s.CompensateOnError,
		})
	}
	return out
}

// StepDescriptor is the read-only view of a Step exposed by Describe.
type StepDescriptor struct {
	StepNumber        int
	Name              string
	ServiceName       string
	CompensateOnError bool
}
