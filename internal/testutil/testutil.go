// Package testutil defines internal support code for writing tests.
//
// The Runtime type is a scripted stand-in for the mesh runtime. It records
// every channel, envelope and port the code under test asks for, and lets a
// test trigger runtime events on them explicitly.
package testutil

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/cadetchan/cadet"
)

// ErrStopped is reported by Post after the runtime is stopped.
var ErrStopped = errors.New("testutil: runtime stopped")

// PeerID returns a fixed identity derived from seed.
func PeerID(seed string) cadet.PeerID { return sha256.Sum256([]byte(seed)) }

// An Envelope is one payload passed to Handle.Send.
type Envelope struct {
	Payload []byte
	Notify  func() // nil unless a sent notification was requested
}

// A Channel is a channel handle issued by a Runtime.
type Channel struct {
	ID   int
	Peer cadet.PeerID
	Port cadet.PortHash
	H    cadet.Handlers

	sent      []Envelope
	notified  int
	acks      int
	destroyed bool
}

// Send implements part of the cadet.Handle interface.
func (c *Channel) Send(payload []byte, sent func()) {
	c.sent = append(c.sent, Envelope{Payload: append([]byte(nil), payload...), Notify: sent})
}

// ReceiveDone implements part of the cadet.Handle interface.
func (c *Channel) ReceiveDone() { c.acks++ }

// Destroy implements part of the cadet.Handle interface.
func (c *Channel) Destroy() { c.destroyed = true }

// A Port is a port registration issued by a Runtime.
type Port struct {
	Hash   cadet.PortHash
	Accept cadet.AcceptFunc
	closed bool
}

// Close implements the cadet.PortHandle interface.
func (p *Port) Close() { p.closed = true }

// Runtime implements cadet.Runtime with a single worker goroutine. Its
// exported methods other than the cadet.Runtime methods run on the worker
// and wait for it, so they must not be called from a worker task.
type Runtime struct {
	id      cadet.PeerID
	payload int

	mu      sync.Mutex
	stopped bool
	tasks   chan func()
	done    chan struct{}

	// Worker-owned.
	channels   []*Channel
	ports      []*Port
	failCreate error
	failOpen   error
}

// NewRuntime starts a new runtime with the given identity and maximum
// payload. If maxPayload ≤ 0, cadet.DefaultMaxPayload is used.
func NewRuntime(id cadet.PeerID, maxPayload int) *Runtime {
	if maxPayload <= 0 {
		maxPayload = cadet.DefaultMaxPayload
	}
	r := &Runtime{
		id:      id,
		payload: maxPayload,
		tasks:   make(chan func(), 1024),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for task := range r.tasks {
			task()
		}
	}()
	return r
}

// Identity implements part of the cadet.Runtime interface.
func (r *Runtime) Identity() cadet.PeerID { return r.id }

// MaxPayload implements part of the cadet.Runtime interface.
func (r *Runtime) MaxPayload() int { return r.payload }

// Post implements part of the cadet.Runtime interface.
func (r *Runtime) Post(task func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.tasks <- task
	return nil
}

// CreateChannel implements part of the cadet.Runtime interface.
func (r *Runtime) CreateChannel(peer cadet.PeerID, port cadet.PortHash, h cadet.Handlers) (cadet.Handle, error) {
	if r.failCreate != nil {
		return nil, r.failCreate
	}
	c := &Channel{ID: len(r.channels), Peer: peer, Port: port, H: h}
	r.channels = append(r.channels, c)
	return c, nil
}

// OpenPort implements part of the cadet.Runtime interface.
func (r *Runtime) OpenPort(port cadet.PortHash, accept cadet.AcceptFunc) (cadet.PortHandle, error) {
	if r.failOpen != nil {
		return nil, r.failOpen
	}
	p := &Port{Hash: port, Accept: accept}
	r.ports = append(r.ports, p)
	return p, nil
}

// Do runs f on the worker and waits for it to finish.
func (r *Runtime) Do(f func()) {
	ready := make(chan struct{})
	if err := r.Post(func() { defer close(ready); f() }); err != nil {
		panic(err)
	}
	<-ready
}

// Sync waits until every task posted before the call has run.
func (r *Runtime) Sync() { r.Do(func() {}) }

// Stop stops the worker after it runs the tasks already posted.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.tasks)
	}
	r.mu.Unlock()
	<-r.done
}

// FailCreate makes later calls to CreateChannel report err.
func (r *Runtime) FailCreate(err error) { r.Do(func() { r.failCreate = err }) }

// FailOpen makes later calls to OpenPort report err.
func (r *Runtime) FailOpen(err error) { r.Do(func() { r.failOpen = err }) }

// Channels returns the channels created so far, including inbound ones.
func (r *Runtime) Channels() []*Channel {
	var out []*Channel
	r.Do(func() { out = append(out, r.channels...) })
	return out
}

// Ports returns the ports registered so far.
func (r *Runtime) Ports() []*Port {
	var out []*Port
	r.Do(func() { out = append(out, r.ports...) })
	return out
}

// Sent returns the envelopes sent on c so far.
func (r *Runtime) Sent(c *Channel) []Envelope {
	var out []Envelope
	r.Do(func() { out = append(out, c.sent...) })
	return out
}

// Acks reports how many envelopes on c have been acknowledged.
func (r *Runtime) Acks(c *Channel) int {
	var n int
	r.Do(func() { n = c.acks })
	return n
}

// Destroyed reports whether c has been destroyed.
func (r *Runtime) Destroyed(c *Channel) bool {
	var ok bool
	r.Do(func() { ok = c.destroyed })
	return ok
}

// Closed reports whether p has been closed.
func (r *Runtime) Closed(p *Port) bool {
	var ok bool
	r.Do(func() { ok = p.closed })
	return ok
}

// Window reports a send window of n on c, as a runtime does once a channel
// is established.
func (r *Runtime) Window(c *Channel, n int) { r.Do(func() { c.H.HandleWindow(c, n) }) }

// Deliver delivers payload as one inbound envelope on c.
func (r *Runtime) Deliver(c *Channel, payload []byte) {
	r.Do(func() { c.H.HandleData(c, payload) })
}

// End ends c from the runtime side.
func (r *Runtime) End(c *Channel) { r.Do(func() { c.H.HandleEnd(c) }) }

// CompleteSends fires the sent notifications for every envelope on c not
// yet notified, and reports how many notifications fired.
func (r *Runtime) CompleteSends(c *Channel) int {
	var n int
	r.Do(func() {
		for ; c.notified < len(c.sent); c.notified++ {
			if f := c.sent[c.notified].Notify; f != nil {
				f()
				n++
			}
		}
	})
	return n
}

// Accept simulates an inbound channel from source on p, and returns its
// handle.
func (r *Runtime) Accept(p *Port, source cadet.PeerID) *Channel {
	var c *Channel
	r.Do(func() {
		c = &Channel{ID: len(r.channels), Peer: source, Port: p.Hash}
		r.channels = append(r.channels, c)
		c.H = p.Accept(c, source)
	})
	return c
}
