package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrMalformedResponse  = errors.New("malformed response")
)

// FetchError is the classified failure of one adapter call.
type FetchError struct {
	Source string
	Kind   error
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := e.Source + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewFetchError(source string, kind error, status int, err error) *FetchError {
	return &FetchError{Source: source, Kind: kind, Status: status, Err: err}
}

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetworkUnavailable)
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformedResponse)
}
