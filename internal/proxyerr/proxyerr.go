// Package proxyerr classifies backend transport failures and maps them to the
// status and message the client sees. It is the only place those values are
// decided.
package proxyerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind tags a transport failure.
type Kind int

const (
	Unknown Kind = iota
	ConnectionRefused
	Timeout
)

func (k Kind) String() string {
	switch k {
	case ConnectionRefused:
		return "connection_refused"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("proxy %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify wraps err in an *Error. An err that already is one is returned unchanged.
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: kindOf(err), Cause: err}
}

func kindOf(err error) Kind {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnectionRefused
	}
	if errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Unknown
}

// Response is what the client receives for a transport failure.
type Response struct {
	Status  int
	Message string
}

var table = map[Kind]Response{
	ConnectionRefused: {Status: http.StatusServiceUnavailable, Message: "service temporarily unavailable"},
	Timeout:           {Status: http.StatusGatewayTimeout, Message: "request timed out"},
	Unknown:           {Status: http.StatusInternalServerError, Message: "internal error occurred"},
}

// Map returns the client status and message for a classified failure.
func Map(e *Error) Response {
	if e == nil {
		return table[Unknown]
	}
	if r, ok := table[e.Kind]; ok {
		return r
	}
	return table[Unknown]
}
