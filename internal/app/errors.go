package app

import (
	"fmt"
	"net/http"
)

// Error codes surfaced to HTTP clients.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeForbidden          = "FORBIDDEN"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func forbiddenError(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func illegalTransitionError(message string, details any) *DomainError {
	return domainError(http.StatusConflict, CodeIllegalTransition, message, details)
}

func conflictError(message string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func backendUnavailableError(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, CodeBackendUnavailable, message, nil)
}
