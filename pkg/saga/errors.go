package saga

import "fmt"

// StepFailureError is what a template's Forward function returns for a
// business-rule failure that isn't routed through the controlled failure
// injector (§7's StepFailure{kind}) — e.g. a stock check that legitimately
// comes back short, rather than one injected by CFI. The Kind matches
// failureinjector.Kind's vocabulary so step.errorMessage and the
// StepFailure metric carry the same taxonomy regardless of origin.
type StepFailureError struct {
	Kind    string
	Message string
}

func (e *StepFailureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewStepFailure builds a StepFailureError for kind with message.
func NewStepFailure(kind, message string) *StepFailureError {
	return &StepFailureError{Kind: kind, Message: message}
}
