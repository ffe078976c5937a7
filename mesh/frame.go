package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type frameKind uint8

const (
	kindHello   frameKind = iota + 1 // body: public key, signature
	kindOpen                         // body: port hash, window
	kindOpenAck                      // body: window
	kindData                         // body: payload
	kindAck                          // body: empty
	kindDestroy                      // body: empty
)

var kindName = map[frameKind]string{
	kindHello:   "hello",
	kindOpen:    "open",
	kindOpenAck: "open-ack",
	kindData:    "data",
	kindAck:     "ack",
	kindDestroy: "destroy",
}

func (k frameKind) String() string {
	if s, ok := kindName[k]; ok {
		return s
	}
	return fmt.Sprintf("kind-%d", uint8(k))
}

// flagReply marks a frame sent by the side that accepted the channel.
const flagReply = 1

// frameHeaderSize is the encoded size of a frame header:
//
//	kind    : uint8
//	flags   : uint8
//	channel : uint32, big-endian
const frameHeaderSize = 6

type frame struct {
	kind    frameKind
	flags   uint8
	channel uint32
	body    []byte
}

func (f *frame) reply() bool { return f.flags&flagReply != 0 }

func (f *frame) encode() []byte {
	out := make([]byte, frameHeaderSize+len(f.body))
	out[0] = byte(f.kind)
	out[1] = f.flags
	binary.BigEndian.PutUint32(out[2:], f.channel)
	copy(out[frameHeaderSize:], f.body)
	return out
}

var errShortFrame = errors.New("mesh: frame too short")

func decodeFrame(data []byte) (*frame, error) {
	if len(data) < frameHeaderSize {
		return nil, errShortFrame
	}
	f := &frame{
		kind:    frameKind(data[0]),
		flags:   data[1],
		channel: binary.BigEndian.Uint32(data[2:]),
		body:    data[frameHeaderSize:],
	}
	if _, ok := kindName[f.kind]; !ok {
		return nil, fmt.Errorf("mesh: unknown frame kind %d", data[0])
	}
	return f, nil
}

func putWindow(n int) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return buf[:]
}

func getWindow(body []byte) (int, error) {
	if len(body) != 4 {
		return 0, fmt.Errorf("mesh: window field has %d bytes", len(body))
	}
	return int(binary.BigEndian.Uint32(body)), nil
}
