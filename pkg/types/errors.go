package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them to responses and the
// task tracker can decide whether to retry
type ErrorKind string

const (
	// ErrValidation covers malformed or incomplete intake requests
	ErrValidation ErrorKind = "validation"

	// ErrAlreadyInProgress means the target already has an active deployment
	ErrAlreadyInProgress ErrorKind = "already-in-progress"

	// ErrLocked means deployments are administratively disabled
	ErrLocked ErrorKind = "locked"

	// ErrUnknownSecurityGroup means a named security group could not be
	// resolved to an sg- id
	ErrUnknownSecurityGroup ErrorKind = "unknown-security-group"

	// ErrMissingASG means the remote service has no record of the group
	ErrMissingASG ErrorKind = "missing-asg"

	// ErrUnexpectedResponse means the remote service answered outside its
	// contract, usually a non-302 status or a missing Location header
	ErrUnexpectedResponse ErrorKind = "unexpected-response"

	// ErrTaskMissing means a created group's remote task could not be found
	// in the cluster task lists
	ErrTaskMissing ErrorKind = "task-missing"

	// ErrHTTP marks a transient transport failure; the tracker retries these
	ErrHTTP ErrorKind = "http"

	// ErrStore marks a transient persistence failure; the tracker retries
	// these
	ErrStore ErrorKind = "store"

	// ErrImageMismatch means an AMI exists but belongs to another application
	ErrImageMismatch ErrorKind = "image-mismatch"
)

// Error is a classified failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error from a format string
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification from an error chain, or "" when the
// chain carries none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given classification
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Transient reports whether the error is a retryable transport or persistence
// failure
func Transient(err error) bool {
	switch KindOf(err) {
	case ErrHTTP, ErrStore:
		return true
	}
	return false
}
