package cadet

import (
	"errors"
	"fmt"

	"github.com/cadetchan/cadet/code"
	"github.com/cadetchan/cadet/metrics"
	"github.com/creachadair/mds/queue"
	"github.com/sirupsen/logrus"
)

type chanState int

const (
	stateIdle       chanState = iota // not yet connected or opened
	stateConnecting                  // connect or port open in progress
	stateConnected                   // the runtime has a live handle
	stateEnded                       // the runtime ended the channel, or setup failed
	stateClosed                      // closed by the application
)

var stateName = [...]string{"idle", "connecting", "connected", "ended", "closed"}

func (s chanState) String() string { return stateName[s] }

// A sendEntry is a send waiting for the one in flight to complete.
type sendEntry struct {
	data []byte
	done func(int, error)
}

// A segment is a received payload, partly consumed up to off.
type segment struct {
	data []byte
	off  int
}

// A channelImpl is the engine behind a Channel. Its fields are divided
// between the two execution contexts of the scheduler, and each group must
// only be touched from tasks of its owner.
type channelImpl struct {
	svc   *Service
	sched *Scheduler
	log   *logrus.Entry
	m     *metrics.M

	// Worker-owned.
	handle   Handle
	released bool // the handle has been given up; ignore further events

	// Loop-owned.
	state     chanState
	opening   bool // waiting on a port for an inbound channel
	peer      PeerID
	window    int
	onConnect func(error)

	sendq  *queue.Queue[*sendEntry] // sends waiting behind the one in flight
	sendID uint64                   // sequence number of the send in flight
	onSend func(error)              // completion of the send in flight, or nil

	recvCur   *segment               // front of the receive queue, if split
	recvq     *queue.Queue[*segment] // buffered inbound payloads
	onReceive func(int, error)       // pending receive, or nil
	output    []byte                 // destination of the pending receive
}

func newChannelImpl(svc *Service, id uint64) *channelImpl {
	return &channelImpl{
		svc:   svc,
		sched: svc.sched,
		log:   svc.log.WithField("channel", id),
		m:     svc.m,
		sendq: queue.New[*sendEntry](),
		recvq: queue.New[*segment](),
	}
}

// enter runs op on the loop. If the loop has stopped, fail is called with
// ErrAborted on a new goroutine instead.
func (e *channelImpl) enter(op func(), fail func(error)) {
	if err := e.sched.Dispatch(op); err != nil && fail != nil {
		go fail(ErrAborted)
	}
}

// later schedules f on the loop. Completion callbacks are always delivered
// through later, never inline with the operation that triggered them.
func (e *channelImpl) later(f func()) {
	if err := e.sched.Dispatch(f); err != nil {
		go f()
	}
}

// toWorker schedules f on the runtime worker, and reports whether it was
// accepted.
func (e *channelImpl) toWorker(f func()) bool { return e.sched.Post(f) == nil }

// toLoop schedules a state transition on the loop from the worker.
func (e *channelImpl) toLoop(f func()) {
	if err := e.sched.Dispatch(f); err != nil {
		e.log.WithError(err).Debug("dropped channel event")
	}
}

// Loop-context operations.

func (e *channelImpl) connect(peer, port string, done func(error)) {
	switch e.state {
	case stateIdle:
	case stateClosed:
		e.later(func() { done(ErrAborted) })
		return
	default:
		err := Errorf(code.ProtocolError, "channel is %s", e.state)
		e.later(func() { done(err) })
		return
	}
	id, err := ParsePeerID(peer)
	if err != nil {
		// The runtime is not contacted, and the channel cannot be reused.
		e.state = stateEnded
		e.later(func() { done(err) })
		return
	}
	e.state = stateConnecting
	e.peer = id
	e.onConnect = done
	hash := HashPort(port)
	e.log.WithFields(logrus.Fields{"peer": id.Short(), "port": port}).Debug("connecting")
	if !e.toWorker(func() { e.create(id, hash) }) {
		e.setupFailed(errRuntimeStopped)
	}
}

var errRuntimeStopped = errors.New("runtime is not running")

func (e *channelImpl) send(data []byte, done func(int, error)) {
	switch e.state {
	case stateClosed:
		e.later(func() { done(0, ErrAborted) })
		return
	case stateIdle:
		e.later(func() { done(0, errNotConnected) })
		return
	case stateConnecting:
		if e.opening {
			e.later(func() { done(0, errNotConnected) })
			return
		}
	case stateEnded:
		e.later(func() { done(0, ErrConnectionReset) })
		return
	}
	e.m.Count(metrics.SendsIssued, 1)
	if e.onSend != nil {
		e.sendq.Add(&sendEntry{data: data, done: done})
		e.m.SetMaxValue(metrics.SendQueueDepth, int64(e.sendq.Len()))
		return
	}
	e.dispatch(data, done)
}

// dispatch makes data the send in flight and hands it to the worker.
func (e *channelImpl) dispatch(data []byte, done func(int, error)) {
	e.sendID++
	id, size := e.sendID, len(data)
	e.onSend = func(err error) {
		if err != nil {
			done(0, err)
		} else {
			done(size, nil)
		}
	}
	e.log.WithFields(logrus.Fields{"send": id, "bytes": size}).Trace("send dispatched")
	if !e.toWorker(func() { e.transmit(id, data) }) {
		e.sendFailed(id)
	}
}

func (e *channelImpl) receive(buf []byte, done func(int, error)) {
	switch {
	case e.state == stateClosed:
		e.later(func() { done(0, ErrAborted) })
	case e.onReceive != nil:
		e.later(func() { done(0, Errorf(code.ProtocolError, "a receive is already pending")) })
	case e.hasBuffered():
		n := e.consume(buf)
		e.later(func() { done(n, nil) })
	case e.state == stateEnded:
		e.later(func() { done(0, ErrConnectionReset) })
	case e.state == stateIdle:
		e.later(func() { done(0, errNotConnected) })
	default:
		e.onReceive = done
		e.output = buf
	}
}

func (e *channelImpl) hasBuffered() bool { return e.recvCur != nil || !e.recvq.IsEmpty() }

// consume copies from the oldest buffered payload into buf.
func (e *channelImpl) consume(buf []byte) int {
	if e.recvCur == nil {
		e.recvCur, _ = e.recvq.Pop()
	}
	seg := e.recvCur
	n := copy(buf, seg.data[seg.off:])
	seg.off += n
	if seg.off == len(seg.data) {
		e.recvCur = nil
	}
	return n
}

// close aborts every pending operation and releases the handle. It is safe
// to call more than once.
func (e *channelImpl) close() {
	if e.state == stateClosed {
		return
	}
	e.state = stateClosed
	e.log.Debug("closing")

	aborted := 0
	if f := e.onSend; f != nil {
		e.onSend = nil
		e.later(func() { f(ErrAborted) })
		aborted++
	}
	if f := e.onReceive; f != nil {
		e.onReceive, e.output = nil, nil
		e.later(func() { f(0, ErrAborted) })
		aborted++
	}
	for !e.sendq.IsEmpty() {
		next, _ := e.sendq.Pop()
		e.later(func() { next.done(0, ErrAborted) })
		aborted++
	}
	if f := e.onConnect; f != nil {
		e.onConnect = nil
		e.later(func() { f(ErrAborted) })
		aborted++
	}
	e.opening = false
	e.recvCur = nil
	e.recvq = queue.New[*segment]()
	e.m.Count(metrics.OpsAborted, int64(aborted))
	e.m.Count(metrics.ChannelsClosed, 1)

	e.svc.forget(e)
	// The task holds e until the runtime has let go of it.
	if !e.toWorker(e.release) {
		e.svc.release()
	}
}

// shutdown closes e on behalf of Service.Close.
func (e *channelImpl) shutdown() {
	e.enter(e.close, func(error) {})
}

// end is the teardown after the runtime ends the channel. Pending operations
// fail with err, each exactly once, in a fixed order: receive, the send in
// flight, queued sends, connect.
func (e *channelImpl) end(err error) {
	if e.state == stateEnded || e.state == stateClosed {
		return
	}
	e.state = stateEnded
	e.opening = false
	e.log.WithError(err).Debug("channel ended")
	e.m.Count(metrics.ChannelsReset, 1)

	var flush []func()
	if f := e.onReceive; f != nil {
		e.onReceive, e.output = nil, nil
		flush = append(flush, func() { f(0, err) })
	}
	if f := e.onSend; f != nil {
		e.onSend = nil
		flush = append(flush, func() { f(err) })
	}
	for !e.sendq.IsEmpty() {
		next, _ := e.sendq.Pop()
		flush = append(flush, func() { next.done(0, err) })
	}
	if f := e.onConnect; f != nil {
		e.onConnect = nil
		flush = append(flush, func() { f(err) })
	}
	for _, f := range flush {
		f()
	}
}

// Loop-context continuations of worker events.

func (e *channelImpl) setupFailed(cause error) {
	if e.state != stateConnecting {
		return
	}
	f := e.onConnect
	e.onConnect = nil
	e.end(ErrConnectionReset)
	if f != nil {
		f(wrapError(code.SetupFailed, cause))
	}
}

func (e *channelImpl) windowChanged(window int) {
	if e.state == stateClosed || e.state == stateEnded {
		return
	}
	e.window = window
	if e.state == stateConnecting {
		e.connected()
	}
}

// connected completes a pending connect or port open.
func (e *channelImpl) connected() {
	if e.state != stateConnecting {
		return
	}
	e.state = stateConnected
	e.opening = false
	e.log.WithField("peer", e.peer.Short()).Debug("connected")
	if f := e.onConnect; f != nil {
		e.onConnect = nil
		f(nil)
	}
}

func (e *channelImpl) accepted(source PeerID) {
	if e.state != stateConnecting {
		return
	}
	e.peer = source
	e.connected()
}

func (e *channelImpl) dataSent(id uint64) {
	if e.onSend == nil || id != e.sendID {
		if e.state == stateConnecting || e.state == stateConnected {
			panic(fmt.Sprintf("cadet: completion for send %d without a matching send in flight", id))
		}
		return // flushed by close or teardown
	}
	f := e.onSend
	e.onSend = nil
	if next, ok := e.sendq.Pop(); ok {
		e.dispatch(next.data, next.done)
	}
	f(nil)
}

// sendFailed handles a send that could not reach the runtime. The handle is
// gone, so the channel is torn down.
func (e *channelImpl) sendFailed(id uint64) {
	if e.onSend == nil || id != e.sendID {
		return
	}
	e.end(ErrConnectionReset)
}

func (e *channelImpl) deliver(data []byte) {
	if e.state == stateClosed {
		return
	}
	e.m.Count(metrics.EnvelopesReceived, 1)
	e.m.Count(metrics.BytesReceived, int64(len(data)))
	if len(data) == 0 {
		return
	}
	if f := e.onReceive; f != nil {
		n := copy(e.output, data)
		if n < len(data) {
			e.recvq.Add(&segment{data: data, off: n})
		}
		e.onReceive, e.output = nil, nil
		f(n, nil)
		return
	}
	e.recvq.Add(&segment{data: data})
}

// Worker-context operations.

func (e *channelImpl) create(peer PeerID, port PortHash) {
	if e.released {
		return // closed before the request reached the runtime
	}
	h, err := e.sched.rt.CreateChannel(peer, port, e)
	if err != nil {
		e.toLoop(func() { e.setupFailed(err) })
		return
	}
	e.handle = h
}

// transmit splits data into envelopes of at most the runtime's maximum
// payload. Only the last envelope asks for a sent notification.
func (e *channelImpl) transmit(id uint64, data []byte) {
	if e.handle == nil {
		e.toLoop(func() { e.sendFailed(id) })
		return
	}
	limit := e.sched.rt.MaxPayload()
	if limit < 1 {
		limit = DefaultMaxPayload
	}
	var n int64
	for {
		size := min(limit, len(data))
		var sent func()
		if size == len(data) {
			sent = func() { e.toLoop(func() { e.dataSent(id) }) }
		}
		e.handle.Send(data[:size], sent)
		n++
		e.m.Count(metrics.BytesSent, int64(size))
		if sent != nil {
			break
		}
		data = data[size:]
	}
	e.m.Count(metrics.EnvelopesSent, n)
}

// bind attaches an inbound handle to e, for a port open.
func (e *channelImpl) bind(h Handle, source PeerID) {
	e.handle = h
	e.toLoop(func() { e.accepted(source) })
}

// release gives up the handle. It runs on the worker after close.
func (e *channelImpl) release() {
	if e.handle != nil {
		e.handle.Destroy()
		e.handle = nil
	}
	e.released = true
	e.svc.release()
}

// HandleData implements part of the Handlers interface.
func (e *channelImpl) HandleData(h Handle, payload []byte) {
	if e.released {
		return
	}
	data := append([]byte(nil), payload...)
	h.ReceiveDone()
	e.toLoop(func() { e.deliver(data) })
}

// HandleWindow implements part of the Handlers interface.
func (e *channelImpl) HandleWindow(h Handle, window int) {
	if e.released {
		return
	}
	e.toLoop(func() { e.windowChanged(window) })
}

// HandleEnd implements part of the Handlers interface.
func (e *channelImpl) HandleEnd(h Handle) {
	if e.released {
		return
	}
	e.handle = nil
	e.toLoop(func() { e.end(ErrConnectionReset) })
}
