package cadet

import (
	"context"

	"github.com/cadetchan/cadet/code"
	"github.com/creachadair/mds/queue"
	"github.com/sirupsen/logrus"
)

// A Port accepts inbound channels on a rendezvous name. Each call to Open
// binds one idle Channel to the next inbound channel, in arrival order.
// Inbound channels that arrive while no open is waiting are held until one
// is.
//
// The state of a port is owned by the runtime worker.
type Port struct {
	svc   *Service
	sched *Scheduler
	log   *logrus.Entry

	// Worker-owned.
	name    string
	reg     PortHandle
	closed  bool
	waiting *queue.Queue[*channelImpl] // opens waiting for an inbound channel
	backlog *queue.Queue[*inbound]     // inbound channels waiting for an open
}

func newPort(s *Service, id uint64) *Port {
	return &Port{
		svc:     s,
		sched:   s.sched,
		log:     s.log.WithField("port", id),
		waiting: queue.New[*channelImpl](),
		backlog: queue.New[*inbound](),
	}
}

// AsyncOpen binds ch, which must be idle, to the next inbound channel on the
// rendezvous name. The port registers name with the runtime on its first
// open; later opens must use the same name. done is called with nil once an
// inbound channel has been accepted, after which ch is connected.
func (p *Port) AsyncOpen(ch *Channel, name string, done func(error)) {
	e := ch.impl
	e.enter(func() {
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
		e.state = stateConnecting
		e.opening = true
		e.onConnect = done
		if err := p.sched.Post(func() { p.enqueue(e, name) }); err != nil {
			e.setupFailed(err)
		}
	}, done)
}

// Open is the blocking form of AsyncOpen. If ctx ends before an inbound
// channel arrives, ch is closed and Open reports the context error.
func (p *Port) Open(ctx context.Context, ch *Channel, name string) error {
	rc := make(chan result, 1)
	p.AsyncOpen(ch, name, func(err error) { rc <- result{err: err} })
	_, err := ch.await(ctx, rc)
	return err
}

// Close withdraws the port's registration. Opens still waiting complete with
// ErrAborted, and inbound channels not yet claimed are destroyed. Channels
// already bound by Open are not affected. Close is idempotent.
func (p *Port) Close() error {
	if err := p.sched.Post(p.close); err != nil {
		p.log.WithError(err).Debug("port close discarded")
	}
	return nil
}

func (p *Port) shutdown() {
	if err := p.sched.Post(p.close); err != nil {
		p.svc.release()
	}
}

// Worker-context operations.

func (p *Port) enqueue(e *channelImpl, name string) {
	if e.released {
		return // closed while the open was in transit
	}
	fail := func(err error) { e.toLoop(func() { e.setupFailed(err) }) }
	switch {
	case p.closed:
		e.toLoop(func() { e.end(ErrAborted) })
		return
	case p.reg == nil:
		reg, err := p.sched.rt.OpenPort(HashPort(name), p.accept)
		if err != nil {
			fail(err)
			return
		}
		p.name, p.reg = name, reg
		p.log.WithField("name", name).Debug("port registered")
	case name != p.name:
		e.toLoop(func() {
			e.end(Errorf(code.ProtocolError, "port is bound to %q, not %q", p.name, name))
		})
		return
	}
	for !p.backlog.IsEmpty() {
		in, _ := p.backlog.Pop()
		if in.ended {
			continue
		}
		in.claim(e)
		return
	}
	p.waiting.Add(e)
}

// accept is the AcceptFunc registered with the runtime.
func (p *Port) accept(h Handle, source PeerID) Handlers {
	p.log.WithField("source", source.Short()).Debug("inbound channel")
	for !p.waiting.IsEmpty() {
		e, _ := p.waiting.Pop()
		if e.released {
			continue
		}
		e.bind(h, source)
		return e
	}
	in := &inbound{h: h, source: source}
	p.backlog.Add(in)
	return in
}

func (p *Port) close() {
	if p.closed {
		return
	}
	p.closed = true
	if p.reg != nil {
		p.reg.Close()
		p.reg = nil
	}
	for !p.waiting.IsEmpty() {
		e, _ := p.waiting.Pop()
		e.toLoop(func() { e.end(ErrAborted) })
	}
	for !p.backlog.IsEmpty() {
		in, _ := p.backlog.Pop()
		if !in.ended {
			in.h.Destroy()
		}
	}
	p.svc.forget(p)
	p.svc.release()
	p.log.Debug("port closed")
}

// An inbound is an accepted channel not yet claimed by an open. It records
// the events the runtime delivers, and replays them to the engine that
// claims it.
type inbound struct {
	h      Handle
	source PeerID
	events []func(Handlers)
	ended  bool
	target *channelImpl
}

func (in *inbound) claim(e *channelImpl) {
	in.target = e
	e.bind(in.h, in.source)
	for _, ev := range in.events {
		ev(e)
	}
	in.events = nil
}

func (in *inbound) record(ev func(Handlers)) {
	if in.target != nil {
		ev(in.target)
	} else {
		in.events = append(in.events, ev)
	}
}

// HandleData implements part of the Handlers interface. Unclaimed data stay
// unacknowledged, so the runtime holds back later envelopes.
func (in *inbound) HandleData(h Handle, payload []byte) {
	if in.target == nil {
		payload = append([]byte(nil), payload...)
	}
	in.record(func(hs Handlers) { hs.HandleData(h, payload) })
}

// HandleWindow implements part of the Handlers interface.
func (in *inbound) HandleWindow(h Handle, window int) {
	in.record(func(hs Handlers) { hs.HandleWindow(h, window) })
}

// HandleEnd implements part of the Handlers interface.
func (in *inbound) HandleEnd(h Handle) {
	if in.target == nil {
		in.ended = true
		return
	}
	in.target.HandleEnd(h)
}
