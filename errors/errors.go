// Package errors provides error construction with caller annotation plus the
// stable machine-readable failure codes that cross the RPC boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// callerLocation formats the file:line of the function that called one of the
// constructors below.
func callerLocation() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", callerLocation(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", callerLocation(), fmt.Sprintf(format, a...), err)
}

// Code is a stable, machine-readable failure category. Codes cross the RPC
// boundary unchanged, so renaming one is a protocol change.
type Code string

const (
	CodeNotInitialized        Code = "NOT_INITIALIZED"
	CodeInvalidParams         Code = "INVALID_PARAMS"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeUnsupportedVersion    Code = "UNSUPPORTED_VERSION"
	CodeWorkspaceInaccessible Code = "WORKSPACE_INACCESSIBLE"
	CodeGitUnavailable        Code = "GIT_UNAVAILABLE"
	CodeEngineAuthError       Code = "ENGINE_AUTH_ERROR"
	CodeEngineUnavailable     Code = "ENGINE_UNAVAILABLE"
	CodeEngineInternalFailure Code = "ENGINE_INTERNAL_FAILURE"
	CodeCancelled             Code = "CANCELLED"
	CodeUnknown               Code = "UNKNOWN"
)

// Coded is an error carrying a Code plus optional structured data for the
// RPC error object.
type Coded struct {
	Code    Code
	Message string
	Data    map[string]interface{}
	wrapped error
}

func (e *Coded) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Coded) Unwrap() error { return e.wrapped }

// WithData attaches a structured data entry, returning the same error.
func (e *Coded) WithData(key string, value interface{}) *Coded {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// NewCoded creates a new coded error, annotated with file and line number in
// the same style as New.
func NewCoded(code Code, format string, a ...interface{}) *Coded {
	return &Coded{
		Code:    code,
		Message: fmt.Sprintf("[%s] %s", callerLocation(), fmt.Sprintf(format, a...)),
	}
}

// WrapCoded attaches a code and context to an existing error. Returns nil if
// err is nil.
func WrapCoded(err error, code Code, format string, a ...interface{}) *Coded {
	if err == nil {
		return nil
	}
	return &Coded{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
		wrapped: err,
	}
}

// CodeOf extracts the Code from an error chain. Errors without a code map to
// CodeUnknown; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Coded
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// Is reports whether any error in err's chain matches target. Re-exported so
// callers do not need both this package and the standard library one.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// RPCCode maps a Code to its JSON-RPC numeric error code. Standard JSON-RPC
// codes are used where they exist; protocol-specific failures use the
// implementation-defined -32000..-32099 range.
func RPCCode(c Code) int {
	switch c {
	case CodeInvalidParams:
		return -32602
	case CodeSessionNotFound:
		return -32001
	case CodeNotInitialized:
		return -32002
	case CodeUnsupportedVersion:
		return -32003
	case CodeGitUnavailable:
		return -32010
	case CodeEngineAuthError:
		return -32011
	case CodeEngineUnavailable:
		return -32012
	default:
		return -32603
	}
}
