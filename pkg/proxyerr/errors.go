// Package proxyerr provides the structured error type shared by every
// layer of the proxy, generalized from go-rawhttp's pkg/errors to also
// carry the HTTP status code a failure should surface to the client.
package proxyerr

import (
	"errors"
	"fmt"
	"time"
)

// Type categorizes the layer that produced an error.
type Type string

const (
	TypeDNS        Type = "dns"
	TypeConnection Type = "connection"
	TypeProtocol   Type = "protocol"
	TypeIO         Type = "io"
	TypeValidation Type = "validation"
	TypePolicy     Type = "policy"
)

// Error is a structured error carrying enough context to both log and, for
// proxy-facing failures, render a status-line-only HTTP response.
type Error struct {
	Type       Type
	Op         string
	Message    string
	Cause      error
	StatusCode int // 0 if this error never reaches a client directly
	Timestamp  time.Time
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s: %s", e.Type, e.Op, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New builds a bare structured error with no HTTP status attached.
func New(typ Type, op, message string, cause error) *Error {
	return &Error{Type: typ, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// WithStatus builds a structured error that also carries the HTTP status
// code the STM's ERROR_STATE should write back to the client.
func WithStatus(typ Type, op, message string, cause error, status int) *Error {
	return &Error{Type: typ, Op: op, Message: message, Cause: cause, StatusCode: status, Timestamp: time.Now()}
}

// StatusCode extracts the HTTP status carried by err, if any, defaulting to
// 500 for an unrecognized error and 0 when err is nil.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode
	}
	return 500
}

// IsType reports whether err (or something it wraps) is a *Error of typ.
func IsType(err error, typ Type) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == typ
}
