package botstore

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by Client matches exactly one of
// ErrTransport or ErrBackend through errors.Is; payload problems match
// ErrBackend as well as their own sentinel.
var (
	// ErrTransport covers rejected, timed out, non-2xx and undecodable
	// responses.
	ErrTransport = errors.New("backend unreachable")
	// ErrBackend covers responses that carry a "status" key.
	ErrBackend = errors.New("backend reported an error")
	// ErrMissingPayload is returned when the expected key is absent or null.
	ErrMissingPayload = fmt.Errorf("%w: expected payload missing", ErrBackend)
	// ErrMalformedPayload is returned when the payload is present but does
	// not have the expected shape, e.g. a curve without logs.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrBackend)
	// ErrInvalidModelID rejects ids that cannot be used in a path.
	ErrInvalidModelID = errors.New("invalid model id")
)

// Error describes a failed backend call.
type Error struct {
	Op         string // client operation, e.g. "ListModels"
	StatusCode int    // HTTP status, 0 when no response was received
	Detail     string // backend "response" value or payload key
	kind       error
	err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.kind.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

// Unwrap exposes both the class sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

func transportError(op string, status int, err error) *Error {
	return &Error{Op: op, StatusCode: status, kind: ErrTransport, err: err}
}

func backendError(op, detail string) *Error {
	return &Error{Op: op, StatusCode: 200, Detail: detail, kind: ErrBackend}
}

func missingPayload(op, key string) *Error {
	return &Error{Op: op, StatusCode: 200, Detail: key, kind: ErrMissingPayload}
}

func malformedPayload(op, key string, err error) *Error {
	return &Error{Op: op, StatusCode: 200, Detail: key, kind: ErrMalformedPayload, err: err}
}

// Outcome names the error class for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrMissingPayload):
		return "missing_payload"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrBackend):
		return "backend_error"
	default:
		return "error"
	}
}
