// Package link defines the record transports that join mesh nodes.
//
// A link carries discrete records between exactly two nodes. The mesh package
// encodes its frames as records; a link does not interpret them, but adds and
// removes the framing needed to embed them in a byte stream.
package link

import (
	"io"
	"strings"
)

// A Channel represents the ability to transmit and receive data records.  A
// channel does not interpret the contents of a record, but may add and remove
// framing so that records can be embedded in a byte stream.  The methods of a
// Channel need not be safe for concurrent use, but Send and Recv may be called
// concurrently with each other.
type Channel interface {
	// Send transmits a record on the channel.
	Send([]byte) error

	// Recv returns the next available record from the channel.  If no further
	// records are available, it returns io.EOF.
	Recv() ([]byte, error)

	// Close shuts down the channel, after which no further records may be
	// sent or received.
	Close() error
}

// A Framing converts a reader and a writer into a Channel with a particular
// record-framing discipline.
type Framing func(io.Reader, io.WriteCloser) Channel

// Pipe creates a pair of connected in-memory channels using the specified
// framing discipline. Sends to client will be received by server, and vice
// versa. Pipe will panic if framing == nil.
func Pipe(framing Framing) (client, server Channel) {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	client = framing(cr, cw)
	server = framing(sr, sw)
	return
}

// ByName returns the Framing described by the specified name, or nil if the
// name is unknown. The names currently understood are:
//
//	envelope    -- Envelope(MessageTypeMesh)
//	envelope:t  -- Envelope(t), t a decimal message type
//	varint      -- Varint
func ByName(name string) Framing {
	if t := strings.TrimPrefix(name, "envelope:"); t != name {
		typ, err := parseType(t)
		if err != nil {
			return nil
		}
		return Envelope(typ)
	}
	return framings[name]
}

var framings = map[string]Framing{
	"envelope": Envelope(MessageTypeMesh),
	"varint":   Varint,
}

// readCloser returns r as an io.Closer if it is one distinct from wc, so that
// closing a channel also unblocks its own pending Recv.
func readCloser(r io.Reader, wc io.WriteCloser) io.Closer {
	if c, ok := r.(io.Closer); ok && c != io.Closer(wc) {
		return c
	}
	return nil
}

func closeBoth(wc io.WriteCloser, rc io.Closer) error {
	err := wc.Close()
	if rc != nil {
		rc.Close()
	}
	return err
}
