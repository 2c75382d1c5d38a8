// Package coldtreeerr implements the typed error taxonomy shared by every
// component of the engine, as specified in §6.4 and §7.
package coldtreeerr

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a boundary error kind. Codes are stable strings so they
// survive logging and cross-process propagation.
type Code string

const (
	CodeConflict            Code = "CONFLICT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeIntegrityError       Code = "INTEGRITY_ERROR"
	CodeSchemaNewerThanCode  Code = "SCHEMA_NEWER_THAN_CODE"
	CodeMigrationFailed      Code = "MIGRATION_FAILED"
	CodeBusy                 Code = "BUSY"
	CodeTimeout              Code = "TIMEOUT"
	CodeLimitExceeded        Code = "LIMIT_EXCEEDED"
	CodeEncryptionError      Code = "ENCRYPTION_ERROR"
	CodeIo                   Code = "IO"
	CodeInternal             Code = "INTERNAL"
	CodeInvalid              Code = "INVALID_INPUT"
	CodeFinalized            Code = "FINALIZED"
)

// Error is the common error type surfaced at every component boundary.
type Error struct {
	Code      Code
	Message   string
	Cause     error
	Retryable bool
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap builds an Error that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Timestamp: time.Now()}
}

func retryableFor(code Code) bool {
	switch code {
	case CodeBusy, CodeTimeout, CodeLimitExceeded:
		return true
	default:
		return false
	}
}

// NewRetryable builds an Error pre-marked retryable per the taxonomy in §7.
func NewRetryable(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Retryable: true, Timestamp: time.Now()}
}

// Is classifies any error against a boundary code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func IsConflict(err error) bool           { return Is(err, CodeConflict) }
func IsNotFound(err error) bool           { return Is(err, CodeNotFound) }
func IsIntegrityError(err error) bool     { return Is(err, CodeIntegrityError) }
func IsBusy(err error) bool               { return Is(err, CodeBusy) }
func IsTimeout(err error) bool            { return Is(err, CodeTimeout) }
func IsLimitExceeded(err error) bool      { return Is(err, CodeLimitExceeded) }
func IsSchemaNewerThanCode(err error) bool { return Is(err, CodeSchemaNewerThanCode) }

// IsRetryable reports whether a caller should retry the operation that
// produced err, per the retryable flag or the default policy in retryableFor.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		if e.Retryable {
			return true
		}
		return retryableFor(e.Code)
	}
	return false
}
