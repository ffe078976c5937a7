package cadet

import (
	"fmt"
	"net"

	"github.com/cadetchan/cadet/code"
)

// Error is the concrete type of errors reported to channel and port
// completion callbacks.
type Error struct {
	Code    code.Code
	Message string

	err error // optional underlying cause
}

// Error renders e to a human-readable string for the error interface.
func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode reports the code of e. It satisfies code.ErrCoder.
func (e *Error) ErrCode() code.Code { return e.Code }

// Is reports whether target carries the same code as e. This makes any two
// errors with the same code compare equal under errors.Is, so callers may
// test results against the sentinel values below.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return t.Code == e.Code
	case code.ErrCoder:
		return t.ErrCode() == e.Code
	}
	return false
}

// Unwrap reports the underlying cause of e, if any.
func (e *Error) Unwrap() error { return e.err }

// Errorf returns an error value of concrete type *Error having the specified
// code and formatted message string.
func Errorf(c code.Code, msg string, args ...any) error {
	return &Error{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// wrapError returns an *Error with code c whose cause is err.
func wrapError(c code.Code, err error) error {
	return &Error{Code: c, Message: fmt.Sprintf("%s: %v", c, err), err: err}
}

// Sentinel errors, one per outcome reported by channel operations.
var (
	// ErrInvalidTarget reports a malformed peer identity.
	ErrInvalidTarget error = &Error{Code: code.InvalidTarget, Message: "invalid target identifier"}

	// ErrConnectionReset reports that the runtime ended the channel, or that
	// the channel was never connected.
	ErrConnectionReset error = &Error{Code: code.ConnectionReset, Message: "connection reset"}

	// ErrAborted reports an operation cancelled by a local Close. It wraps
	// net.ErrClosed.
	ErrAborted error = &Error{Code: code.OperationAborted, Message: "operation aborted", err: net.ErrClosed}

	// ErrSetupFailed reports that the runtime refused to create a channel or
	// register a port.
	ErrSetupFailed error = &Error{Code: code.SetupFailed, Message: "runtime setup failed"}

	// ErrProtocol reports an operation the channel does not permit in its
	// current state, such as a second concurrent receive.
	ErrProtocol error = &Error{Code: code.ProtocolError, Message: "protocol violation"}
)

// errNotConnected is reported for sends and receives on a channel that never
// connected.
var errNotConnected error = &Error{Code: code.ConnectionReset, Message: "channel is not connected"}
