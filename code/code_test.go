package code

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestRegistration(t *testing.T) {
	const message = "peer is muted"
	c := Register(-100, message)
	if got := c.String(); got != message {
		t.Errorf("Register(-100): got %q, want %q", got, message)
	} else if c != -100 {
		t.Errorf("Register(-100): got %d instead", c)
	}
}

func TestRegistrationError(t *testing.T) {
	for _, v := range []int32{int32(ConnectionReset), 42} {
		func() {
			defer func() {
				if p := recover(); p != nil {
					t.Logf("Register correctly panicked: %v", p)
				} else {
					t.Errorf("Register should have panicked on input %d, but did not", v)
				}
			}()
			Register(v, "bogus")
		}()
	}
}

type testCoder Code

func (t testCoder) ErrCode() Code { return Code(t) }
func (testCoder) Error() string { return "bogus" }

func TestFromError(t *testing.T) {
	tests := []struct {
		input error
		want  Code
	}{
		{nil, NoError},
		{testCoder(InvalidTarget), InvalidTarget},
		{testCoder(ConnectionReset), ConnectionReset},
		{OperationAborted.Err(), OperationAborted},
		{fmt.Errorf("wrapped: %w", SetupFailed.Err()), SetupFailed},
		{context.Canceled, Cancelled},
		{fmt.Errorf("late: %w", context.DeadlineExceeded), DeadlineExceeded},
		{errors.New("other"), SystemError},
		{io.EOF, SystemError},
	}
	for _, test := range tests {
		if got := FromError(test.input); got != test.want {
			t.Errorf("FromError(%v): got %v, want %v", test.input, got, test.want)
		}
	}
}

func TestErrIs(t *testing.T) {
	if err := NoError.Err(); err != nil {
		t.Errorf("NoError.Err(): got %v, want nil", err)
	}
	err := fmt.Errorf("send: %w", ConnectionReset.Err())
	if !errors.Is(err, ConnectionReset.Err()) {
		t.Errorf("errors.Is(%v, ConnectionReset): got false, want true", err)
	}
	if errors.Is(err, OperationAborted.Err()) {
		t.Errorf("errors.Is(%v, OperationAborted): got true, want false", err)
	}
	if !errors.Is(err, testCoder(ConnectionReset)) {
		t.Errorf("errors.Is(%v, testCoder): got false, want true", err)
	}
}
