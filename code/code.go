// Package code defines the error code values used by the cadet package.
package code

import (
	"context"
	"errors"
	"fmt"
)

// A Code is an error category reported by a channel or port operation.
//
// Codes below 100 are reserved for the values defined here. The remainder of
// the space is available to applications via Register.
type Code int32

func (c Code) String() string {
	if s, ok := stdError[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// An ErrCoder is a value that can report an error code value.
type ErrCoder interface {
	ErrCode() Code
}

// Err converts c to an error value, which is nil for code.NoError and
// otherwise an error value whose concrete type implements ErrCoder. Two errors
// obtained from Err compare equal under errors.Is when their codes match.
func (c Code) Err() error {
	if c == NoError {
		return nil
	}
	return codeError(c)
}

type codeError Code

func (e codeError) Error() string { return Code(e).String() }
func (e codeError) ErrCode() Code { return Code(e) }

// Is reports whether target carries the same code as e.
func (e codeError) Is(target error) bool {
	c, ok := target.(ErrCoder)
	return ok && c.ErrCode() == Code(e)
}

// Pre-defined error codes.
const (
	NoError Code = 0 // Denotes a nil error (used by FromError)

	InvalidTarget    Code = 1 // Malformed peer identity; the runtime was not contacted
	ConnectionReset  Code = 2 // The runtime ended the channel, or it is not connected
	OperationAborted Code = 3 // The channel or port was closed by the application
	SetupFailed      Code = 4 // The runtime could not create the channel or port
	ProtocolError    Code = 5 // The caller broke the operation contract

	SystemError      Code = 10 // Errors from the operating environment
	Cancelled        Code = 11 // Context cancelled (context.Canceled)
	DeadlineExceeded Code = 12 // Context deadline exceeded (context.DeadlineExceeded)
)

var stdError = map[Code]string{
	NoError:          "no error (success)",
	InvalidTarget:    "invalid target identifier",
	ConnectionReset:  "connection reset",
	OperationAborted: "operation aborted",
	SetupFailed:      "runtime setup failed",
	ProtocolError:    "protocol violation",
	SystemError:      "system error",
	Cancelled:        "operation cancelled",
	DeadlineExceeded: "deadline exceeded",
}

// Register adds a new Code value with the specified message string.  This
// function will panic if the proposed value is already registered or lies in
// the reserved range.
func Register(value int32, message string) Code {
	code := Code(value)
	if s, ok := stdError[code]; ok {
		panic(fmt.Sprintf("code %d is already registered for %q", code, s))
	} else if value >= 0 && value < 100 {
		panic(fmt.Sprintf("code %d is in the reserved range", code))
	}
	stdError[code] = message
	return code
}

// FromError returns a Code to categorize the specified error.
// If err == nil, it returns code.NoError.
// If err is (or wraps) an ErrCoder, it returns the reported code value.
// If err is context.Canceled, it returns code.Cancelled.
// If err is context.DeadlineExceeded, it returns code.DeadlineExceeded.
// Otherwise it returns code.SystemError.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	var c ErrCoder
	if errors.As(err, &c) {
		return c.ErrCode()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	default:
		return SystemError
	}
}
