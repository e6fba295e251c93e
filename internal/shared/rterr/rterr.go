// Package rterr defines the error taxonomy shared by the sandbox engine, the RPC
// transport, and the host service.
//
// Every error that crosses a component boundary carries a stable Code so callers
// can branch on the class of failure (retry, dispose, report) without parsing
// messages:
//
//	RUNTIME_TIMEOUT  deadline exceeded inside sandboxed execution
//	RUNTIME_ERROR    script threw, or the bundle contract was violated
//	UNKNOWN_ERROR    anything uncategorized
//	SCHEMA_ERROR     UI tree or intent list failed structural validation
//	SESSION_ERROR    unknown, duplicate, or disposed session
//	TRANSPORT_ERROR  the remote execution context went away
package rterr

import (
	"errors"
	"fmt"
)

// Code classifies a runtime failure.
type Code string

const (
	CodeTimeout   Code = "RUNTIME_TIMEOUT"
	CodeRuntime   Code = "RUNTIME_ERROR"
	CodeUnknown   Code = "UNKNOWN_ERROR"
	CodeSchema    Code = "SCHEMA_ERROR"
	CodeSession   Code = "SESSION_ERROR"
	CodeTransport Code = "TRANSPORT_ERROR"
)

// Error is a classified runtime error.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail attaches a detail key and returns the same error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a classified error
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf returns the code of the first classified error in the chain.
// Unclassified errors report CodeUnknown; nil reports "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return CodeUnknown
}

// Is reports whether err is classified with code
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ReasonNotFound marks a SESSION_ERROR raised for an unknown session id, as
// opposed to a duplicate or suspended one. It survives the wire form.
const ReasonNotFound = "not_found"

// SessionNotFound is the canonical error for operations on unknown sessions
func SessionNotFound(sessionID string) *Error {
	return New(CodeSession, "session not found: %s", sessionID).
		WithDetail("sessionId", sessionID).
		WithDetail("reason", ReasonNotFound)
}

// IsNotFound reports whether err is a SessionNotFound error
func IsNotFound(err error) bool {
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeSession {
		return false
	}
	reason, _ := rerr.Details["reason"].(string)
	return reason == ReasonNotFound
}

// Payload is the wire form of an Error
type Payload struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToPayload converts any error to its wire form
func ToPayload(err error) *Payload {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return &Payload{Code: rerr.Code, Message: rerr.Message, Details: rerr.Details}
	}
	return &Payload{Code: CodeUnknown, Message: err.Error()}
}

// FromPayload rebuilds a classified error from its wire form
func FromPayload(p *Payload) *Error {
	if p == nil {
		return New(CodeUnknown, "remote call failed without error payload")
	}
	code := p.Code
	if code == "" {
		code = CodeUnknown
	}
	return &Error{Code: code, Message: p.Message, Details: p.Details}
}
