package mesh

import (
	"github.com/cadetchan/cadet"
	"github.com/creachadair/mds/queue"
)

type chanState int

const (
	chanOpening chanState = iota // open sent, or parked awaiting a link
	chanOpen
)

type envelope struct {
	payload []byte
	sent    func()
}

// A channel is one end of a mesh channel. It implements cadet.Handle. All its
// methods run on the node's worker.
type channel struct {
	node  *Node
	key   chanKey
	port  cadet.PortHash
	link  *peer // nil while parked
	h     cadet.Handlers
	state chanState

	credit int                    // envelopes the peer will accept
	outq   *queue.Queue[envelope] // envelopes waiting for credit

	inbox      *queue.Queue[[]byte] // received, not yet delivered
	delivering bool                 // a delivered envelope awaits ReceiveDone

	gone bool // destroyed locally or ended; no further events
}

func newChannel(n *Node, key chanKey, h cadet.Handlers) *channel {
	return &channel{
		node:  n,
		key:   key,
		h:     h,
		outq:  queue.New[envelope](),
		inbox: queue.New[[]byte](),
	}
}

func (c *channel) flags() uint8 {
	if c.key.outbound {
		return 0
	}
	return flagReply
}

func (c *channel) frame(kind frameKind, body []byte) *frame {
	return &frame{kind: kind, flags: c.flags(), channel: c.key.id, body: body}
}

func (c *channel) sendOpen() {
	body := append(append([]byte(nil), c.port[:]...), putWindow(c.node.window)...)
	c.node.send(c.link, c.frame(kindOpen, body))
}

// opened handles the peer's acceptance of an outbound channel.
func (c *channel) opened(window int) {
	if c.state != chanOpening {
		return
	}
	c.state = chanOpen
	c.credit = window
	c.flush()
	if !c.gone {
		c.h.HandleWindow(c, c.credit)
	}
}

// flush transmits queued envelopes while credit remains.
func (c *channel) flush() {
	for !c.gone && c.state == chanOpen && c.credit > 0 && !c.outq.IsEmpty() {
		env, _ := c.outq.Pop()
		c.credit--
		c.node.send(c.link, c.frame(kindData, env.payload))
		if env.sent != nil && !c.gone {
			env.sent()
		}
	}
}

func (c *channel) receive(payload []byte) {
	c.inbox.Add(payload)
	if !c.delivering {
		c.deliverNext()
	}
}

func (c *channel) deliverNext() {
	if c.gone || c.delivering || c.inbox.IsEmpty() {
		return
	}
	data, _ := c.inbox.Pop()
	c.delivering = true
	c.h.HandleData(c, data)
}

// end reports the end of c to its handlers, if it has not already ended.
func (c *channel) end() {
	if c.gone {
		return
	}
	c.gone = true
	delete(c.node.chans, c.key)
	if c.h != nil {
		c.h.HandleEnd(c)
	}
}

// destroy withdraws c without notifying its handlers.
func (c *channel) destroy() {
	if c.gone {
		return
	}
	c.gone = true
	delete(c.node.chans, c.key)
	if c.link != nil {
		c.node.send(c.link, c.frame(kindDestroy, nil))
	}
}

// Send implements part of the cadet.Handle interface.
func (c *channel) Send(payload []byte, sent func()) {
	if c.gone {
		return
	}
	c.outq.Add(envelope{payload: payload, sent: sent})
	c.flush()
}

// ReceiveDone implements part of the cadet.Handle interface.
func (c *channel) ReceiveDone() {
	if c.gone || !c.delivering {
		return
	}
	c.delivering = false
	c.node.send(c.link, c.frame(kindAck, nil))
	// Deliver the next envelope in a fresh task, not inside the handler that
	// acknowledged this one.
	c.node.Post(c.deliverNext)
}

// Destroy implements part of the cadet.Handle interface.
func (c *channel) Destroy() { c.destroy() }
