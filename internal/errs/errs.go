// Package errs implements the error taxonomy from the engine's error
// handling design: a small set of kinds, not concrete types per call
// site, each wrapping an optional cause the way the teacher's
// DatabaseError wraps one.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the engine distinguishes. Restart is
// retried internally by cursor searches and by Truncate; Cursor.Next and
// Prev (and their recno forms) return it when the leaf they step off
// has been split, and the caller re-searches from its last position.
type Kind int

const (
	KindUnknown Kind = iota
	KindRestart
	KindNotFound
	KindDuplicateKey
	KindWriteConflict
	KindPrepareConflict
	KindBusy
	KindInvalid
	KindCorruption
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindRestart:
		return "restart"
	case KindNotFound:
		return "not found"
	case KindDuplicateKey:
		return "duplicate key"
	case KindWriteConflict:
		return "write conflict"
	case KindPrepareConflict:
		return "prepare conflict"
	case KindBusy:
		return "busy"
	case KindInvalid:
		return "invalid"
	case KindCorruption:
		return "corruption"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// EngineError is the concrete error type every kind is carried in.
type EngineError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &EngineError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether the first EngineError in err's wrap chain carries
// the given kind; EngineErrors nested further inside it are not checked.
func Is(err error, kind Kind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

var (
	ErrRestart         = New(KindRestart, "structural race, retry from last safe point")
	ErrNotFound        = New(KindNotFound, "key not found")
	ErrDuplicateKey    = New(KindDuplicateKey, "key already exists")
	ErrWriteConflict   = New(KindWriteConflict, "conflicting update in progress")
	ErrPrepareConflict = New(KindPrepareConflict, "update is in an unresolved prepare")
	ErrBusy            = New(KindBusy, "resource temporarily unavailable")
	ErrInvalid         = New(KindInvalid, "invalid operation")
	ErrCorruption      = New(KindCorruption, "page image checksum or format mismatch")
)

// Panic reports an unrecoverable invariant violation. Unlike every other
// kind, this is fatal: the caller is expected to crash the process, never
// to retry or surface it to a user as a normal error value.
func Panic(format string, args ...any) error {
	return New(KindPanic, fmt.Sprintf(format, args...))
}
