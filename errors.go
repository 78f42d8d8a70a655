// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is a machine-readable error code carried in error replies.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeTooManyRequests   Code = "TOO_MANY_REQUESTS"
	CodeTimeout           Code = "TIMEOUT"
	CodeCancelled         Code = "CANCELLED"
	CodeNotSubscribed     Code = "NOT_SUBSCRIBED"
	CodeChannelExists     Code = "CHANNEL_EXISTS"
	CodeAlreadySubscribed Code = "ALREADY_SUBSCRIBED"
	CodeWrongRole         Code = "WRONG_ROLE"
	CodeNotAttached       Code = "NOT_ATTACHED"
	CodeClosed            Code = "CLOSED"
	CodeRemote            Code = "REMOTE"
)

// GRPCCode maps remote codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeTooManyRequests:
		return codes.ResourceExhausted
	case CodeTimeout:
		return codes.DeadlineExceeded
	case CodeCancelled:
		return codes.Canceled
	case CodeNotSubscribed:
		return codes.Unimplemented
	case CodeChannelExists:
		return codes.AlreadyExists
	case CodeAlreadySubscribed, CodeWrongRole:
		return codes.FailedPrecondition
	case CodeNotAttached:
		return codes.NotFound
	case CodeClosed:
		return codes.Unavailable
	case CodeRemote:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Error is the error type returned by channel operations.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Status converts the error into a gRPC status.
func (e *Error) Status() *status.Status {
	return status.New(e.Code.GRPCCode(), e.Message)
}

var (
	ErrTooManyRequests   = &Error{Code: CodeTooManyRequests, Message: "Too many requests"}
	ErrTimeout           = &Error{Code: CodeTimeout, Message: "Request timeout reached"}
	ErrCancelled         = &Error{Code: CodeCancelled, Message: "Operation cancelled"}
	ErrNotSubscribed     = &Error{Code: CodeNotSubscribed, Message: "not subscribed"}
	ErrChannelExists     = &Error{Code: CodeChannelExists, Message: "channel already exists"}
	ErrAlreadySubscribed = &Error{Code: CodeAlreadySubscribed, Message: "handler already subscribed"}
	ErrWrongRole         = &Error{Code: CodeWrongRole, Message: "operation not available for this role"}
	ErrNotAttached       = &Error{Code: CodeNotAttached, Message: "channel not attached"}
	ErrClosed            = &Error{Code: CodeClosed, Message: "closed"}
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func newError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}
