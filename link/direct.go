package link

import (
	"io"
	"net"
	"sync"
)

type direct struct {
	send chan<- []byte
	recv <-chan []byte

	once   *sync.Once
	closed chan struct{} // closed by either side's Close
}

func (d direct) Send(msg []byte) error {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case <-d.closed:
		return net.ErrClosed
	case d.send <- cp:
		return nil
	}
}

func (d direct) Recv() ([]byte, error) {
	select {
	case msg := <-d.recv:
		return msg, nil
	case <-d.closed:
		return nil, io.EOF
	}
}

func (d direct) Close() error { d.once.Do(func() { close(d.closed) }); return nil }

// Direct returns a pair of synchronous connected channels that pass record
// buffers directly in memory without framing or encoding. Sends to client will
// be received by server, and vice versa. Closing either end closes both.
func Direct() (client, server Channel) {
	c2s := make(chan []byte)
	s2c := make(chan []byte)
	once := new(sync.Once)
	closed := make(chan struct{})
	client = direct{send: c2s, recv: s2c, once: once, closed: closed}
	server = direct{send: s2c, recv: c2s, once: once, closed: closed}
	return
}
