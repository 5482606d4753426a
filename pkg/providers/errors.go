// Package providers defines the three external AI provider ports (script,
// voice, video) and their HTTP adapters.
package providers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

// Provider error kinds. Transient failures are retried by the queue;
// permanent ones still burn through attempts but will never succeed.
const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrorKind
	Op      string // e.g. "script.generate"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a retryable provider error.
func Transient(op, message string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Message: message, Err: err}
}

// Permanent builds a non-retryable provider error.
func Permanent(op, message string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Message: message, Err: err}
}

// IsPermanent reports whether err is a permanent provider error.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindPermanent
}

// ErrInvalidState is returned by VideoPort.Fetch when the provider job has
// not completed.
var ErrInvalidState = errors.New("video job is not in completed state")

// classifyStatus maps an HTTP status to an error kind: rate limits and
// server errors are retryable, other client errors are not.
func classifyStatus(status int) ErrorKind {
	if status == 429 || status >= 500 {
		return KindTransient
	}
	return KindPermanent
}
