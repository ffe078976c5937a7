package link

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Envelope header layout. The size field counts the header itself.
const (
	HeaderSize  = 4
	MaxEnvelope = 1<<16 - 1 // largest encodable envelope, header included
	MaxRecord   = MaxEnvelope - HeaderSize

	// MessageTypeMesh is the message type used for mesh frames.
	MessageTypeMesh uint16 = 1010
)

// ErrRecordTooLarge is reported by Send on an envelope channel when the record
// does not fit in a single envelope.
var ErrRecordTooLarge = errors.New("record exceeds maximum envelope size")

// TypeMismatchError is reported by Recv on an envelope channel when the
// message type of the envelope does not match the channel's type.
type TypeMismatchError struct {
	Got, Want uint16
}

func (t *TypeMismatchError) Error() string {
	return fmt.Sprintf("message type mismatch: got %d, want %d", t.Got, t.Want)
}

// Envelope defines a framing that transmits and receives records as
// fixed-header envelopes. Each record is sent in the format:
//
//	size : uint16, big-endian, header plus payload
//	type : uint16, big-endian, the message type
//	<payload>
//
// Records longer than MaxRecord bytes cannot be sent. Recv reports a
// *TypeMismatchError for an envelope of another message type, after consuming
// it from the stream.
func Envelope(msgType uint16) Framing {
	return func(r io.Reader, wc io.WriteCloser) Channel {
		return &envelope{mtype: msgType, wc: wc, rc: readCloser(r, wc), rd: bufio.NewReader(r)}
	}
}

// An envelope implements Channel. Records sent on an envelope channel are
// prefixed by a size and type header.
type envelope struct {
	mtype uint16
	wc    io.WriteCloser
	rc    io.Closer // or nil
	rd    *bufio.Reader
}

// Send implements part of the Channel interface.
func (e *envelope) Send(msg []byte) error {
	if len(msg) > MaxRecord {
		return ErrRecordTooLarge
	}
	out := make([]byte, HeaderSize+len(msg))
	binary.BigEndian.PutUint16(out[0:], uint16(len(out)))
	binary.BigEndian.PutUint16(out[2:], e.mtype)
	copy(out[HeaderSize:], msg)
	_, err := e.wc.Write(out)
	return err
}

// Recv implements part of the Channel interface.
func (e *envelope) Recv() ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(e.rd, hdr[:]); err != nil {
		return nil, err
	}
	size := int(binary.BigEndian.Uint16(hdr[0:]))
	typ := binary.BigEndian.Uint16(hdr[2:])
	if size < HeaderSize {
		return nil, fmt.Errorf("invalid envelope size %d", size)
	}
	data := make([]byte, size-HeaderSize)
	if _, err := io.ReadFull(e.rd, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if typ != e.mtype {
		return nil, &TypeMismatchError{Got: typ, Want: e.mtype}
	}
	return data, nil
}

// Close implements part of the Channel interface.
func (e *envelope) Close() error { return closeBoth(e.wc, e.rc) }

func parseType(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}
