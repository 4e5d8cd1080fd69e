// Package agenterr defines the error kinds the agent distinguishes. None of
// them is fatal: the loop logs them and carries on with the next tick.
package agenterr

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrTimeout              = errors.New("timeout")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrAlreadyActive        = errors.New("watering already active")
	ErrDurationOutOfRange   = errors.New("watering duration out of range")
)

// Transport classifies an error returned by an HTTP round trip: deadline
// overruns become ErrTimeout, everything else ErrTransportUnavailable.
func Transport(err error, op string) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return &kindError{kind: ErrTimeout, op: op, cause: err}
	}
	return &kindError{kind: ErrTransportUnavailable, op: op, cause: err}
}

// Malformed wraps a decode/validation failure.
func Malformed(err error, op string) error {
	return &kindError{kind: ErrMalformedResponse, op: op, cause: err}
}

// Unavailable reports a failure that has no underlying Go error, e.g. a
// non-2xx status.
func Unavailable(op, detail string) error {
	return &kindError{kind: ErrTransportUnavailable, op: op, cause: errors.New(detail)}
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Code maps err onto a short stable label for logs, metrics and HTTP bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrDurationOutOfRange):
		return "duration_out_of_range"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	default:
		return "error"
	}
}

type kindError struct {
	kind  error
	op    string
	cause error
}

func (e *kindError) Error() string {
	return e.op + ": " + e.kind.Error() + ": " + e.cause.Error()
}

// Is matches the kind sentinel; Unwrap exposes the cause so callers can still
// inspect the original error.
func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }
