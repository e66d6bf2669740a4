package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// ErrorInvalidInput marks an activity that cannot be routed at all.
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorUpstream marks a turn whose replies could not be delivered.
	ErrorUpstream ErrorCode = "UPSTREAM_ERROR"
	// ErrorUnauthorized marks a request without a valid channel token.
	ErrorUnauthorized ErrorCode = "UNAUTHORIZED"

	ErrorInternal ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of a usecase error, or ErrorInternal for anything else.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
