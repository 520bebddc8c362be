package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound        = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden       = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized    = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict        = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation      = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal        = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrPolicyViolation = New("POLICY_VIOLATION", http.StatusConflict, "operation violates task policy")
	ErrTransfer        = New("TRANSFER_FAILED", http.StatusBadGateway, "file transfer failed")
	ErrCancelled       = New("UPLOAD_CANCELLED", http.StatusConflict, "upload cancelled")
	ErrTimeout         = New("TRANSFER_TIMEOUT", http.StatusGatewayTimeout, "file transfer timed out")
	ErrCacheMiss       = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// TransferError describes a failed storage transfer. A zero TransportStatus
// with Timeout set means the transport deadline elapsed before any response.
type TransferError struct {
	TransportStatus int
	Timeout         bool
	Err             error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	if e.Timeout {
		if e.Err != nil {
			return fmt.Sprintf("transfer timed out: %v", e.Err)
		}
		return "transfer timed out"
	}
	if e.TransportStatus != 0 {
		return fmt.Sprintf("transfer failed with status %d", e.TransportStatus)
	}
	if e.Err != nil {
		return fmt.Sprintf("transfer failed: %v", e.Err)
	}
	return "transfer failed"
}

// Unwrap returns the underlying transport error.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a timed-out transfer.
func IsTimeout(err error) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Timeout
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var te *TransferError
	if errors.As(err, &te) {
		if te.Timeout {
			return Wrap(te, ErrTimeout.Code, ErrTimeout.Status, ErrTimeout.Message)
		}
		return Wrap(te, ErrTransfer.Code, ErrTransfer.Status, fmt.Sprintf("file transfer failed (status %d)", te.TransportStatus))
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
