// Package vdberrors defines the error taxonomy shared by every
// vectordb component: arena, metadata, hnsw, planner, and the
// façade itself all wrap their failures in an *Error carrying one of
// these kinds, so callers can branch on Kind() without depending on
// string matching or package-specific sentinel values.
package vdberrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind uint8

const (
	// IO covers file-not-found, permission-denied, disk-full, and
	// lock-contention failures. Never retried internally.
	IO Kind = iota
	// Corruption covers bad magic, unknown format version, truncated
	// files, and header/body size mismatches. Fatal for the handle.
	Corruption
	// InvalidArgument covers dimension mismatch, empty vectors, k<=0,
	// and malformed filters. Rejected before any state change.
	InvalidArgument
	// Capacity covers inserts that would exceed an administrator-set
	// hard cap on arena growth.
	Capacity
	// Concurrency covers opening for write while another process
	// already holds the write lock.
	Concurrency
	// NotFound covers strict-mode lookups against an unknown or
	// tombstoned id.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "IO"
	case Corruption:
		return "Corruption"
	case InvalidArgument:
		return "InvalidArgument"
	case Capacity:
		return "Capacity"
	case Concurrency:
		return "Concurrency"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every vectordb package returns.
// It wraps an underlying cause (which may be nil) and classifies it
// by Kind so callers can branch without string matching.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "arena.Append"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vectordb: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("vectordb: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error whose cause is a plain error carrying msg.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap builds an *Error around an existing cause. If err is nil, Wrap
// returns nil so callers can write `return vdberrors.Wrap(...)`
// unconditionally after a fallible call.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
// Returns false if err does not carry a vectordb Kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is a vectordb error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
