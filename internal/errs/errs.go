// Package errs defines the error taxonomy shared by the install pipeline.
//
// Every fatal failure surfaced to the CLI carries one of a small set of
// codes so callers (and the JSON report) can tell a malformed spec apart
// from an unsatisfiable request or a failed download:
//
//	err := errs.New(errs.CodeParse, "invalid match spec %q", raw)
//	if errs.Is(err, errs.CodeParse) {
//	    // ...
//	}
package errs

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	// CodeParse marks a malformed match spec or lockfile entry.
	CodeParse Code = "PARSE_ERROR"
	// CodePrecondition marks a missing or unusable target prefix.
	CodePrecondition Code = "PRECONDITION_FAILED"
	// CodeUnsatisfiable marks a request the solver could not satisfy.
	CodeUnsatisfiable Code = "UNSATISFIABLE"
	// CodeIO marks missing files and failed downloads.
	CodeIO Code = "IO_ERROR"
	// CodeFormat marks unsupported or structurally invalid documents.
	CodeFormat Code = "FORMAT_ERROR"
	// CodeNotFound marks a package that no loaded channel provides.
	CodeNotFound Code = "NOT_FOUND"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an Error around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether the outermost *Error in err's chain has the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code, or "" when err carries none.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns the message without the code prefix.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}
