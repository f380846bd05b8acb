package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes. Skip codes never reach the sender as HTTP errors; the receiver turns them into
// 200 skip responses carrying Message as the reason.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
	CodeConfiguration     = "CONFIGURATION_SKIP"
	CodeDuplicateDelivery = "DUPLICATE_DELIVERY"
	CodeCircuitOpen       = "CIRCUIT_OPEN"
	CodeRateLimited       = "RATE_LIMITED"
	CodeDownstream        = "DOWNSTREAM_FAILED"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Skip reports whether the error is a business-logic skip answered with 200.
func (e *DomainError) Skip() bool {
	switch e.Code {
	case CodeConfiguration, CodeDuplicateDelivery, CodeCircuitOpen, CodeRateLimited:
		return true
	}
	return false
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// NewAuthenticationError rejects a delivery with a bad signature or stale timestamp.
func NewAuthenticationError(message string, err error) error {
	return &DomainError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized, Err: err}
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewConfigurationError marks a tenant that exists but is not accepting events.
func NewConfigurationError(reason string) error {
	return NewDomainError(CodeConfiguration, reason, http.StatusOK, nil)
}

func NewDuplicateDelivery() error {
	return NewDomainError(CodeDuplicateDelivery, "duplicate event", http.StatusOK, nil)
}

func NewCircuitOpen(details map[string]any) error {
	return NewDomainError(CodeCircuitOpen, "circuit breaker active", http.StatusOK, details)
}

func NewRateLimited(reason string) error {
	return NewDomainError(CodeRateLimited, reason, http.StatusOK, nil)
}

// NewDownstreamError wraps a failed ticket-system call. The queue retries these.
func NewDownstreamError(op string, err error) error {
	return &DomainError{
		Code:       CodeDownstream,
		Message:    fmt.Sprintf("ticket system %s failed", op),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}
