package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error so callers can match on policy rather than on
// driver-specific error values.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindMalformedKey
	KindLocalIO
	KindRemoteTransient
	KindRemotePermanent
	KindCorruptCompressed
	KindManifestBroken
	KindCancelled
	KindTimeout
	KindDBControl
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindMalformedKey:
		return "malformed_key"
	case KindLocalIO:
		return "local_io"
	case KindRemoteTransient:
		return "remote_transient"
	case KindRemotePermanent:
		return "remote_permanent"
	case KindCorruptCompressed:
		return "corrupt_compressed"
	case KindManifestBroken:
		return "manifest_broken"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindDBControl:
		return "db_control"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the underlying cause. It is the error type
// produced at every subsystem boundary.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "objectstore.put"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from an error chain. Context cancellation and
// deadline errors are recognized even when no *Error wraps them.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error policy allows another attempt:
// transient remote failures, local I/O failures (reads and writes alike)
// and timeouts are retried,
// everything else is surfaced.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRemoteTransient, KindLocalIO, KindTimeout:
		return true
	default:
		return false
	}
}
