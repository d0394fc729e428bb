// Package piccoloerr implements the cluster state core's closed error
// taxonomy: every fallible operation returns one of these codes, carried in
// an Error value that also records a correlation ID for audit.
package piccoloerr

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
)

// Code is one of the nine exhaustive error kinds the control plane returns.
type Code string

const (
	CodeBadRequest       Code = "BadRequest"
	CodeConflict         Code = "Conflict"
	CodeUnknownNode      Code = "UnknownNode"
	CodeUnauthorized     Code = "Unauthorized"
	CodeUnavailable      Code = "Unavailable"
	CodeDeadlineExceeded Code = "DeadlineExceeded"
	CodeStale            Code = "Stale"
	CodeCompacted        Code = "Compacted"
	CodeInternal         Code = "Internal"
)

// grpcCode maps each taxonomy code onto the closest gRPC status code, so a
// non-Go caller still gets a meaningful status.
var grpcCode = map[Code]codes.Code{
	CodeBadRequest:       codes.InvalidArgument,
	CodeConflict:         codes.AlreadyExists,
	CodeUnknownNode:      codes.NotFound,
	CodeUnauthorized:     codes.Unauthenticated,
	CodeUnavailable:      codes.Unavailable,
	CodeDeadlineExceeded: codes.DeadlineExceeded,
	CodeStale:            codes.Aborted,
	CodeCompacted:        codes.OutOfRange,
	CodeInternal:         codes.Internal,
}

// GRPCCode returns the gRPC status code a piccoloerr.Code maps to.
func GRPCCode(c Code) codes.Code {
	if gc, ok := grpcCode[c]; ok {
		return gc
	}
	return codes.Unknown
}

// Error is the user-visible failure shape: code, message, correlation id,
// optional details, and a timestamp.
type Error struct {
	Code          Code
	Message       string
	CorrelationID string
	Details       []string
	Timestamp     time.Time
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (correlation=%s): %v", e.Code, e.Message, e.CorrelationID, e.Err)
	}
	return fmt.Sprintf("[%s] %s (correlation=%s)", e.Code, e.Message, e.CorrelationID)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail appends a detail string and returns the receiver for chaining.
func (e *Error) WithDetail(d string) *Error {
	e.Details = append(e.Details, d)
	return e
}

// New creates an Error with the given code, message, and correlation id.
func New(code Code, correlationID, message string) *Error {
	return &Error{Code: code, Message: message, CorrelationID: correlationID, Timestamp: time.Now()}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(code Code, correlationID, message string, err error) *Error {
	return &Error{Code: code, Message: message, CorrelationID: correlationID, Timestamp: time.Now(), Err: err}
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// As extracts the *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}
