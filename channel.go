package cadet

import (
	"context"
	"errors"
	"io"
	"runtime"
)

// A Channel is a reliable, ordered byte channel to a mesh peer. Create one
// with Service.NewChannel, then connect it to a peer with Connect or bind it
// to an inbound channel with Port.Open.
//
// The Async methods return immediately and report their outcome by calling
// the supplied callback on the service loop. A callback is never called
// inline with the method that registered it. The other methods block until
// the outcome is known, and must not be called from a callback.
//
// At most one send is in flight at a time; further sends are queued and
// complete in the order they were issued. At most one receive may be pending
// at a time.
type Channel struct {
	impl *channelImpl
}

func newChannel(e *channelImpl) *Channel {
	c := &Channel{impl: e}
	runtime.SetFinalizer(c, func(c *Channel) { c.impl.finalize() })
	return c
}

// finalize closes an engine whose Channel was dropped without Close.
func (e *channelImpl) finalize() {
	e.enter(func() {
		if e.state != stateClosed {
			e.log.Warn("channel was not closed before it was discarded")
			e.close()
		}
	}, nil)
}

// AsyncConnect connects c to the port named port on the peer whose identity
// has the text form peer. It calls done with nil once the runtime reports the
// channel ready. If peer is malformed, done reports ErrInvalidTarget and the
// runtime is not contacted.
func (c *Channel) AsyncConnect(peer, port string, done func(error)) {
	e := c.impl
	e.enter(func() { e.connect(peer, port, done) }, done)
}

// AsyncSend sends data on c. The channel owns data until done is called, and
// done reports len(data) on success. An empty data still sends one empty
// envelope.
func (c *Channel) AsyncSend(data []byte, done func(int, error)) {
	e := c.impl
	e.enter(func() { e.send(data, done) }, func(err error) { done(0, err) })
}

// AsyncReceive copies the oldest buffered inbound data into buf, waiting for
// data to arrive if none is buffered. Data are consumed from one payload at a
// time; a payload larger than buf is delivered over several receives. The
// channel owns buf until done is called. It is an error to call AsyncReceive
// while another receive is pending. On a channel that was never connected or
// opened, the receive fails at once with a connection reset.
func (c *Channel) AsyncReceive(buf []byte, done func(int, error)) {
	e := c.impl
	e.enter(func() { e.receive(buf, done) }, func(err error) { done(0, err) })
}

// Close closes c. Every pending operation completes with ErrAborted, and the
// runtime handle is released. Close is idempotent and does not block.
func (c *Channel) Close() error {
	runtime.SetFinalizer(c, nil)
	e := c.impl
	e.enter(e.close, nil)
	return nil
}

type result struct {
	n   int
	err error
}

// await waits for an operation to report to ch. If ctx ends first, c is
// closed to abort the operation.
func (c *Channel) await(ctx context.Context, ch <-chan result) (int, error) {
	select {
	case r := <-ch:
		return r.n, r.err
	case <-ctx.Done():
		c.Close()
		r := <-ch
		if r.err == nil {
			return r.n, nil
		}
		return 0, ctx.Err()
	}
}

// Connect is the blocking form of AsyncConnect. If ctx ends before the
// channel is ready, c is closed and Connect reports the context error.
func (c *Channel) Connect(ctx context.Context, peer, port string) error {
	ch := make(chan result, 1)
	c.AsyncConnect(peer, port, func(err error) { ch <- result{err: err} })
	_, err := c.await(ctx, ch)
	return err
}

// Send is the blocking form of AsyncSend.
func (c *Channel) Send(ctx context.Context, data []byte) (int, error) {
	ch := make(chan result, 1)
	c.AsyncSend(data, func(n int, err error) { ch <- result{n, err} })
	return c.await(ctx, ch)
}

// Receive is the blocking form of AsyncReceive.
func (c *Channel) Receive(ctx context.Context, buf []byte) (int, error) {
	ch := make(chan result, 1)
	c.AsyncReceive(buf, func(n int, err error) { ch <- result{n, err} })
	return c.await(ctx, ch)
}

// Read implements io.Reader. It reports io.EOF once the peer has ended the
// channel and every buffered byte has been read.
func (c *Channel) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := c.Receive(context.Background(), p)
	if errors.Is(err, ErrConnectionReset) {
		return n, io.EOF
	}
	return n, err
}

// Write implements io.Writer. Each call sends p as a single message.
func (c *Channel) Write(p []byte) (int, error) {
	return c.Send(context.Background(), p)
}
