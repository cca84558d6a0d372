package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code carried on every business
// error. Clients branch on the code, never on the message text.
type Code string

const (
	CodeValidation            Code = "VALIDATION"
	CodeNotFound              Code = "NOT_FOUND"
	CodeLimitExceeded         Code = "LIMIT_EXCEEDED"
	CodePreApprovalMismatch   Code = "PRE_APPROVAL_MISMATCH"
	CodeProviderNotContracted Code = "PROVIDER_NOT_CONTRACTED"
	CodeInternal              Code = "INTERNAL"
)

// Error is the typed error returned by all domain services. Path names the
// offending field or resource path when known.
type Error struct {
	Code    Code
	Message string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithPath returns a copy of the error annotated with the offending path.
func (e *Error) WithPath(path string) *Error {
	return &Error{Code: e.Code, Message: e.Message, Path: path, Err: e.Err}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func LimitExceeded(format string, args ...interface{}) *Error {
	return &Error{Code: CodeLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

func PreApprovalMismatch(format string, args ...interface{}) *Error {
	return &Error{Code: CodePreApprovalMismatch, Message: fmt.Sprintf(format, args...)}
}

func ProviderNotContracted(format string, args ...interface{}) *Error {
	return &Error{Code: CodeProviderNotContracted, Message: fmt.Sprintf(format, args...)}
}

func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// CodeOf extracts the stable code from err, or CodeInternal for anything
// that is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
