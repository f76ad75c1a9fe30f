package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide between retrying,
// refreshing a session, degrading, or surfacing the error.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAuthentication
	KindNetwork
	KindTimeout
	KindPermission
	KindConflict
	KindNotFound
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and an operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, walking the wrap chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Retryable reports whether an operation that failed with err is worth
// retrying. Validation and permanent auth failures never are.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}
