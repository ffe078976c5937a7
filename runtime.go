package cadet

// DefaultMaxPayload is the largest payload a runtime carries in one envelope
// unless it reports otherwise: a 64KiB message less the transport and
// channel headers.
const DefaultMaxPayload = 65536 - 164 - 4

// A Runtime is the foreign mesh runtime a Service drives. A Runtime owns a
// single worker goroutine. Except for Identity, MaxPayload and Post, its
// methods and the methods of the handles it returns must only be called from
// tasks running on that worker.
type Runtime interface {
	// Identity reports the local peer identity. It is safe to call from any
	// goroutine.
	Identity() PeerID

	// MaxPayload reports the largest payload the runtime accepts in a single
	// envelope. It is safe to call from any goroutine.
	MaxPayload() int

	// Post schedules task to run on the worker. Tasks run one at a time in the
	// order they were posted. Post reports an error and discards task if the
	// runtime has stopped.
	Post(task func()) error

	// CreateChannel opens a channel to port on peer. Events on the channel
	// are delivered to h on the worker.
	CreateChannel(peer PeerID, port PortHash, h Handlers) (Handle, error)

	// OpenPort registers port for inbound channels. For each inbound channel
	// the runtime calls accept on the worker, and delivers subsequent events
	// on that channel to the Handlers it returns.
	OpenPort(port PortHash, accept AcceptFunc) (PortHandle, error)
}

// An AcceptFunc is called by a Runtime for each inbound channel on a port.
type AcceptFunc func(h Handle, source PeerID) Handlers

// A Handle is the runtime's handle for a single channel.
type Handle interface {
	// Send queues payload as one envelope. The runtime may retain payload
	// until the envelope is transmitted, so callers must not modify it. If
	// sent != nil, it is called on the worker once the envelope has left the
	// local queue.
	Send(payload []byte, sent func())

	// ReceiveDone acknowledges the most recently delivered envelope and
	// permits the runtime to deliver another.
	ReceiveDone()

	// Destroy releases the channel. No further events are delivered for it.
	Destroy()
}

// Handlers receive channel events from a Runtime. All methods are called on
// the worker.
type Handlers interface {
	// HandleData delivers one inbound envelope. The runtime may reuse payload
	// after HandleData returns.
	HandleData(h Handle, payload []byte)

	// HandleWindow reports a change in the send window. The first call for a
	// channel signals that it is connected.
	HandleWindow(h Handle, window int)

	// HandleEnd reports that the runtime has ended the channel. The handle
	// must not be used after this call.
	HandleEnd(h Handle)
}

// A PortHandle is the runtime's registration of a port.
type PortHandle interface {
	// Close withdraws the registration. Pending inbound channels that were
	// not yet accepted are dropped by the runtime.
	Close()
}
