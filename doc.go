/*
Package cadet implements reliable, ordered byte channels over a peer-to-peer
mesh runtime, with a completion-callback API in the style of an asynchronous
I/O library.

# Runtimes

The mesh itself is provided by a Runtime. A Runtime owns a single worker
goroutine, and every call that touches a runtime handle is made from a task
posted to that worker. The mesh package provides a Runtime that links peers
over byte streams; tests may use any implementation of the interface.

# Services

A Service drives a Runtime on behalf of an application:

	svc := cadet.NewService(rt, nil)
	defer svc.Close()

The service runs a local loop goroutine. Channel state lives on that loop, and
every completion callback is called there, never inline with the call that
registered it. Work moves between the loop and the runtime worker through the
service's Scheduler.

# Channels

To talk to a peer, create a channel and connect it to a named port on the
peer's identity:

	ch := svc.NewChannel()
	defer ch.Close()
	if err := ch.Connect(ctx, peerID, "chat"); err != nil {
	   log.Fatalf("Connect: %v", err)
	}

Peer identities are 52-character base32 strings; see ParsePeerID. Once
connected, data are sent and received with Send and Receive, or their
callback forms AsyncSend and AsyncReceive:

	ch.AsyncSend([]byte("hello"), func(n int, err error) {
	   // called on the service loop once the data are queued for the peer
	})

Sends are delivered in the order they were issued, and a payload larger than
the runtime's maximum is split into several envelopes. A receive copies from
the oldest buffered payload, so one payload may be read over several
receives. A *Channel also implements io.Reader and io.Writer.

# Ports

To accept channels from peers, create a Port and open idle channels on it:

	p := svc.NewPort()
	defer p.Close()

	ch := svc.NewChannel()
	if err := p.Open(ctx, ch, "chat"); err != nil {
	   log.Fatalf("Open: %v", err)
	}

Each open binds one channel to the next inbound channel on the name.

# Errors

Operations report errors of concrete type *Error, whose Code field is one of
the values in the code package. Errors compare equal under errors.Is when
their codes match, so results may be tested against the sentinels:

	if errors.Is(err, cadet.ErrConnectionReset) {
	   // the peer or the runtime ended the channel
	}

Closing a channel completes its pending operations with ErrAborted, which
also matches net.ErrClosed.
*/
package cadet
