package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors shared by every package in the module.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternalServer     = errors.New("internal server error")
	ErrBadRequest         = errors.New("bad request")
	ErrIllegalTransition  = errors.New("illegal saga state transition")
	ErrIllegalState       = errors.New("saga is not in a state that permits this operation")
)

// AppendPrefix prefixes err's message, returning nil unchanged.
func AppendPrefix(err error, prefix string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// ErrorGroup collects errors from independent operations without aborting
// on the first one — used by App.Shutdown, where one failed close must not
// stop the rest.
type ErrorGroup struct {
	errors []error
}

// NewErrorGroup returns an empty ErrorGroup.
func NewErrorGroup() *ErrorGroup {
	return &ErrorGroup{errors: make([]error, 0)}
}

// Add appends err, ignoring nil.
func (g *ErrorGroup) Add(err error) {
	if err != nil {
		g.errors = append(g.errors, err)
	}
}

// AddPrefix appends err with a prefix, ignoring nil.
func (g *ErrorGroup) AddPrefix(err error, prefix string) {
	if err != nil {
		g.errors = append(g.errors, AppendPrefix(err, prefix))
	}
}

// HasErrors reports whether any error was added.
func (g *ErrorGroup) HasErrors() bool {
	return len(g.errors) > 0
}

// Error concatenates every collected error message.
func (g *ErrorGroup) Error() string {
	var sb strings.Builder
	for i, err := range g.errors {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ErrorWithDetails wraps an error with structured key/value context.
type ErrorWithDetails struct {
	Err     error
	Details map[string]interface{}
}

func NewErrorWithDetails(err error, details map[string]interface{}) *ErrorWithDetails {
	return &ErrorWithDetails{Err: err, Details: details}
}

func (e *ErrorWithDetails) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Err.Error())

	if len(e.Details) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Details {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	return sb.String()
}

func (e *ErrorWithDetails) Unwrap() error {
	return e.Err
}

func (e *ErrorWithDetails) Is(target error) bool {
	return errors.Is(e.Err, target)
}
