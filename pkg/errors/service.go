package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError pairs an error with the HTTP status the admin surface
// should answer with.
type ServiceError struct {
	Code    int
	Message string
	Err     error
}

func NewServiceError(code int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewNotFoundError(resourceType string, id interface{}) *ServiceError {
	message := fmt.Sprintf("%s with id=%v not found", resourceType, id)
	return NewServiceError(http.StatusNotFound, message, ErrNotFound)
}

func NewAlreadyExistsError(resourceType string, field string, value interface{}) *ServiceError {
	message := fmt.Sprintf("%s with %s=%v already exists", resourceType, field, value)
	return NewServiceError(http.StatusConflict, message, ErrAlreadyExists)
}

func NewBadRequestError(reason string) *ServiceError {
	message := "bad request"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(http.StatusBadRequest, message, ErrBadRequest)
}

func NewValidationError(field, reason string) *ServiceError {
	message := fmt.Sprintf("validation failed for field '%s': %s", field, reason)
	return NewServiceError(http.StatusBadRequest, message, ErrBadRequest)
}

// NewIllegalStateError signals a request valid in form but rejected because
// the saga is not in a state that permits it.
func NewIllegalStateError(reason string) *ServiceError {
	message := "illegal state"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(http.StatusConflict, message, ErrIllegalState)
}

func NewInternalServerError(err error) *ServiceError {
	return NewServiceError(http.StatusInternalServerError, "internal server error", err)
}

// ToHTTPResponse maps an error to an HTTP status code and JSON body.
func ToHTTPResponse(err error) (int, interface{}) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code, map[string]string{"error": se.Message}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, map[string]string{"error": err.Error()}
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict, map[string]string{"error": err.Error()}
	case errors.Is(err, ErrIllegalState), errors.Is(err, ErrIllegalTransition):
		return http.StatusConflict, map[string]string{"error": err.Error()}
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, map[string]string{"error": err.Error()}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, map[string]string{"error": err.Error()}
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	default:
		return http.StatusInternalServerError, map[string]string{"error": "internal server error"}
	}
}
