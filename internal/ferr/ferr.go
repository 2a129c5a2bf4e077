// Package ferr defines the closed error taxonomy shared by every layer of
// the splicer server: the state model, the PTY engine, and the IPC plane
// all return errors of this shape so the core dispatcher can translate them
// into a wire-level proto.ErrorCode without inspecting free-form strings.
package ferr

import "fmt"

// Kind is a closed set of error categories (spec §7).
type Kind int

const (
	// KindIO covers any underlying socket, file, or pipe I/O failure.
	KindIO Kind = iota
	// KindIPC covers protocol or framing violations on the wire.
	KindIPC
	// KindPty covers PTY spawn, write, resize, or signal failures.
	KindPty
	// KindInvalidState covers a violated invariant or failed precondition.
	KindInvalidState
	// KindTimeout covers a request that exceeded the server-wide deadline.
	KindTimeout
	// KindUserInput covers a malformed client-supplied value.
	KindUserInput
	// KindDenied covers a peer acting on a target it doesn't hold
	// permission over (e.g. writing without input focus).
	KindDenied
	// KindNotAttached covers an operation naming a peer that isn't
	// attached to the session/pane it's being applied to.
	KindNotAttached
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindIPC:
		return "ipc"
	case KindPty:
		return "pty"
	case KindInvalidState:
		return "invalid_state"
	case KindTimeout:
		return "timeout"
	case KindUserInput:
		return "user_input"
	case KindDenied:
		return "denied"
	case KindNotAttached:
		return "not_attached"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error that optionally wraps an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Newf builds a bare Error of the given kind with a formatted message.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; otherwise it reports KindIO, the most conservative default for an
// error this package didn't originate.
func KindOf(err error) Kind {
	var fe *Error
	if asError(err, &fe) {
		return fe.Kind
	}
	return KindIO
}

// asError is a tiny errors.As shim kept local to avoid importing errors
// just for this one call site being duplicated across callers.
func asError(err error, target **Error) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
