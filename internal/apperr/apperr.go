// Package apperr holds the domain error taxonomy shared by the core packages.
// The HTTP layer maps a *DomainError to its Status; anything else is either
// transient (store.IsTransient) or a server error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
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

func New(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func NotFound(code, message string) *DomainError {
	return New(http.StatusNotFound, code, message, nil)
}

func Forbidden(code, message string) *DomainError {
	return New(http.StatusForbidden, code, message, nil)
}

func Conflict(code, message string) *DomainError {
	return New(http.StatusConflict, code, message, nil)
}

func Unauthorized(code, message string) *DomainError {
	return New(http.StatusUnauthorized, code, message, nil)
}

func Validation(message string, details any) *DomainError {
	return New(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// As returns the DomainError in err's chain, if any.
func As(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	domainErr, ok := As(err)
	return ok && domainErr.Code == code
}
