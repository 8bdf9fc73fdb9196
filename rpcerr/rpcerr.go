// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rpcerr defines the error taxonomy shared by every layer of the
// RPC core: framing, streams, the registry, and the Remote engines.
//
// Errors are classified into four kinds. Callers inspect the kind with
// Is or As, not by comparing against package-level sentinels from every
// producer package, since the same logical failure (e.g. a malformed
// frame) can originate in wire, stream, or shmstream.
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for programmatic handling.
type Kind uint8

const (
	// Timeout means a recv or call waited longer than permitted. The
	// channel remains usable afterward.
	Timeout Kind = iota + 1
	// NotFound means the peer closed the channel, or a method_id /
	// request_id lookup missed.
	NotFound
	// InvalidArgument means a malformed message, an oversized payload,
	// a duplicate registration, or a mismatched request id.
	InvalidArgument
	// IoError is the catch-all for underlying transport failures.
	IoError
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case InvalidArgument:
		return "invalid_argument"
	case IoError:
		return "io_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, rpcerr.New(rpcerr.Timeout, "")) style kind checks via
// the exported Kind sentinels below, or plain kind comparison through Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Of returns the Kind of err if err is (or wraps) an *Error, else 0.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Sentinel instances for errors.Is comparisons where no extra message
// or wrapped cause is needed.
var (
	ErrTimeout         = New(Timeout, "timed out")
	ErrNotFound        = New(NotFound, "not found")
	ErrInvalidArgument = New(InvalidArgument, "invalid argument")
	ErrIO              = New(IoError, "io error")
)
