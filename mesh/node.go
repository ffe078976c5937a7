// Package mesh implements a small peer-to-peer mesh runtime for the cadet
// package.
//
// A Node is identified by an Ed25519 key pair. Nodes are joined by links,
// each a link.Channel carrying mesh frames between exactly two nodes. Channels
// are opened to a named port on a directly linked peer, and carry envelopes in
// order under a credit window.
//
// A *Node satisfies cadet.Runtime. Like any runtime, it runs all channel and
// port work on a single worker goroutine.
package mesh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cadetchan/cadet"
	"github.com/cadetchan/cadet/link"
	"github.com/cadetchan/cadet/loop"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWindow is the number of envelopes a channel may have in flight when
// Options.Window is unset.
const DefaultWindow = 8

// Options control the behaviour of a node created by New.
// A nil *Options provides sensible defaults.
type Options struct {
	// The 32-byte Ed25519 seed of the node's key. If empty, a random key is
	// generated.
	Seed []byte

	// The credit window granted to each channel peer, in envelopes. A value
	// less than 1 uses DefaultWindow.
	Window int

	// The largest envelope payload the node accepts. A value less than 1, or
	// greater than the largest payload a link envelope can carry, uses
	// cadet.DefaultMaxPayload.
	MaxPayload int

	// The framing used for links made by Serve and Dial. If nil, links use
	// link.Envelope(link.MessageTypeMesh).
	Framing link.Framing

	// If not nil, send debug logs here.
	Logger *logrus.Entry
}

func (o *Options) key() (ed25519.PrivateKey, error) {
	if o == nil || len(o.Seed) == 0 {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	if len(o.Seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("mesh: seed has %d bytes, want %d", len(o.Seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(o.Seed), nil
}

func (o *Options) window() int {
	if o == nil || o.Window < 1 {
		return DefaultWindow
	}
	return o.Window
}

func (o *Options) maxPayload() int {
	if o == nil || o.MaxPayload < 1 || o.MaxPayload > link.MaxRecord-frameHeaderSize {
		return cadet.DefaultMaxPayload
	}
	return o.MaxPayload
}

func (o *Options) framing() link.Framing {
	if o == nil || o.Framing == nil {
		return link.Envelope(link.MessageTypeMesh)
	}
	return o.Framing
}

func (o *Options) logger() *logrus.Entry {
	if o == nil || o.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "mesh")
	}
	return o.Logger
}

// ErrNodeClosed is reported for work submitted to a closed node.
var ErrNodeClosed = errors.New("mesh: node is closed")

// A Node is one peer of the mesh.
type Node struct {
	id         cadet.PeerID
	key        ed25519.PrivateKey
	window     int
	maxPayload int
	framing    link.Framing
	log        *logrus.Entry
	worker     *loop.Loop
	readers    sync.WaitGroup

	// Worker-owned.
	closed bool
	nextID uint32
	peers  map[cadet.PeerID]*peer
	ports  map[cadet.PortHash]*portReg
	chans  map[chanKey]*channel
	parked map[cadet.PeerID][]*channel // outbound channels awaiting a link
}

// New constructs a new node and starts its worker.
func New(opts *Options) (*Node, error) {
	key, err := opts.key()
	if err != nil {
		return nil, err
	}
	var id cadet.PeerID
	copy(id[:], key.Public().(ed25519.PublicKey))
	log := opts.logger().WithField("node", id.Short())
	return &Node{
		id:         id,
		key:        key,
		window:     opts.window(),
		maxPayload: opts.maxPayload(),
		framing:    opts.framing(),
		log:        log,
		worker:     loop.New(&loop.Options{Logger: log}).Start(),
		peers:      make(map[cadet.PeerID]*peer),
		ports:      make(map[cadet.PortHash]*portReg),
		chans:      make(map[chanKey]*channel),
		parked:     make(map[cadet.PeerID][]*channel),
	}, nil
}

// Identity implements part of the cadet.Runtime interface.
func (n *Node) Identity() cadet.PeerID { return n.id }

// MaxPayload implements part of the cadet.Runtime interface.
func (n *Node) MaxPayload() int { return n.maxPayload }

// Post implements part of the cadet.Runtime interface.
func (n *Node) Post(task func()) error {
	if err := n.worker.Post(task); err != nil {
		return ErrNodeClosed
	}
	return nil
}

// do runs f on the worker and waits for it.
func (n *Node) do(f func()) error {
	done := make(chan struct{})
	if err := n.Post(func() { defer close(done); f() }); err != nil {
		return err
	}
	<-done
	return nil
}

// CreateChannel implements part of the cadet.Runtime interface. It must be
// called on the worker.
func (n *Node) CreateChannel(peer cadet.PeerID, port cadet.PortHash, h cadet.Handlers) (cadet.Handle, error) {
	if n.closed {
		return nil, ErrNodeClosed
	} else if peer == n.id {
		return nil, errors.New("mesh: loopback channels are not supported")
	}
	n.nextID++
	c := newChannel(n, chanKey{peer: peer, id: n.nextID, outbound: true}, h)
	c.port = port
	n.chans[c.key] = c
	if p, ok := n.peers[peer]; ok {
		c.link = p
		c.sendOpen()
	} else {
		n.log.WithField("peer", peer.Short()).Debug("no link to peer; channel parked")
		n.parked[peer] = append(n.parked[peer], c)
	}
	return c, nil
}

// OpenPort implements part of the cadet.Runtime interface. It must be called
// on the worker.
func (n *Node) OpenPort(port cadet.PortHash, accept cadet.AcceptFunc) (cadet.PortHandle, error) {
	if n.closed {
		return nil, ErrNodeClosed
	} else if _, ok := n.ports[port]; ok {
		return nil, errors.New("mesh: port is already open")
	}
	reg := &portReg{node: n, hash: port, accept: accept}
	n.ports[port] = reg
	return reg, nil
}

// Peers returns the identities of the peers currently linked to n.
func (n *Node) Peers() []cadet.PeerID {
	var out []cadet.PeerID
	n.do(func() {
		for id := range n.peers {
			out = append(out, id)
		}
	})
	return out
}

// Attach performs the hello exchange on ch and, if it succeeds, adds ch as a
// link to the peer on the other end. It returns the identity of that peer.
// Attach takes ownership of ch, and closes it on failure.
func (n *Node) Attach(ch link.Channel) (cadet.PeerID, error) {
	id, err := n.hello(ch)
	if err != nil {
		ch.Close()
		return id, err
	}
	p := &peer{id: id, ch: ch}
	added := make(chan bool, 1)
	if err := n.Post(func() { added <- n.addPeer(p) }); err != nil {
		ch.Close()
		return id, err
	}

	// The reader starts before the peer is added, since adding it may send
	// frames that block until the other side reads them. Its frames are
	// posted after the add, so none is handled before the peer is known.
	n.readers.Add(1)
	go n.read(p)
	if !<-added {
		ch.Close()
		return id, fmt.Errorf("mesh: peer %s is already linked", id.Short())
	}
	return id, nil
}

// helloContext is signed by each side of a hello exchange.
const helloContext = "cadet mesh hello v1"

func (n *Node) hello(ch link.Channel) (cadet.PeerID, error) {
	pub := n.key.Public().(ed25519.PublicKey)
	body := append([]byte(nil), pub...)
	body = append(body, ed25519.Sign(n.key, append([]byte(helloContext), pub...))...)

	var g errgroup.Group
	g.Go(func() error {
		return ch.Send((&frame{kind: kindHello, body: body}).encode())
	})
	var id cadet.PeerID
	g.Go(func() error {
		data, err := ch.Recv()
		if err != nil {
			return fmt.Errorf("mesh: reading hello: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return err
		} else if f.kind != kindHello || len(f.body) != ed25519.PublicKeySize+ed25519.SignatureSize {
			return fmt.Errorf("mesh: invalid hello (%s, %d bytes)", f.kind, len(f.body))
		}
		key := ed25519.PublicKey(f.body[:ed25519.PublicKeySize])
		sig := f.body[ed25519.PublicKeySize:]
		if !ed25519.Verify(key, append([]byte(helloContext), key...), sig) {
			return errors.New("mesh: hello signature does not verify")
		}
		copy(id[:], key)
		return nil
	})
	if err := g.Wait(); err != nil {
		return cadet.PeerID{}, err
	}
	if id == n.id {
		return id, errors.New("mesh: link to self")
	}
	return id, nil
}

// read delivers frames from p to the worker until the link fails.
func (n *Node) read(p *peer) {
	defer n.readers.Done()
	for {
		data, err := p.ch.Recv()
		if err != nil {
			n.log.WithError(err).WithField("peer", p.id.Short()).Debug("link reader exiting")
			if n.Post(func() { n.dropPeer(p) }) != nil {
				p.ch.Close()
			}
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			n.log.WithError(err).WithField("peer", p.id.Short()).Error("discarding invalid frame")
			continue
		}
		if n.Post(func() { n.handleFrame(p, f) }) != nil {
			p.ch.Close()
			return
		}
	}
}

// Connect joins a and b with an in-memory link.
func Connect(a, b *Node) error {
	lhs, rhs := link.Pipe(link.Envelope(link.MessageTypeMesh))
	var g errgroup.Group
	g.Go(func() error { _, err := a.Attach(lhs); return err })
	g.Go(func() error { _, err := b.Attach(rhs); return err })
	return g.Wait()
}

// Serve accepts connections from lst and attaches each as a link, until ctx
// ends or lst fails. Serve closes lst before it returns, and reports nil if
// it stopped because ctx ended.
func (n *Node) Serve(ctx context.Context, lst net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		lst.Close()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := lst.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			go func() {
				id, err := n.Attach(n.framing(conn, conn))
				if err != nil {
					n.log.WithError(err).WithField("remote", conn.RemoteAddr()).Error("attach failed")
					return
				}
				n.log.WithFields(logrus.Fields{"peer": id.Short(), "remote": conn.RemoteAddr()}).Info("peer linked")
			}()
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Dial connects to a node serving at addr and attaches the connection as a
// link. It returns the identity of the remote node.
func (n *Node) Dial(ctx context.Context, addr string) (cadet.PeerID, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return cadet.PeerID{}, err
	}
	return n.Attach(n.framing(conn, conn))
}

// Close ends every channel, closes every link, and stops the worker. Close
// is idempotent.
func (n *Node) Close() error {
	if err := n.do(n.shutdown); err != nil {
		return nil // already closed
	}
	n.worker.Stop()
	n.worker.Wait()
	n.readers.Wait()
	n.log.Debug("node closed")
	return nil
}

// Worker-context operations.

func (n *Node) shutdown() {
	n.closed = true
	for _, c := range n.chans {
		c.end()
	}
	for _, p := range n.peers {
		p.ch.Close()
	}
	n.peers = make(map[cadet.PeerID]*peer)
	n.ports = make(map[cadet.PortHash]*portReg)
	n.parked = make(map[cadet.PeerID][]*channel)
}

func (n *Node) addPeer(p *peer) bool {
	if n.closed {
		return false
	} else if _, ok := n.peers[p.id]; ok {
		return false
	}
	n.peers[p.id] = p
	n.log.WithField("peer", p.id.Short()).Debug("link attached")
	parked := n.parked[p.id]
	delete(n.parked, p.id)
	for _, c := range parked {
		if !c.gone {
			c.link = p
			c.sendOpen()
		}
	}
	return true
}

func (n *Node) dropPeer(p *peer) {
	if n.peers[p.id] != p {
		return
	}
	delete(n.peers, p.id)
	p.ch.Close()
	n.log.WithField("peer", p.id.Short()).Info("link detached")
	for _, c := range n.chans {
		if c.link == p {
			c.end()
		}
	}
}

// send transmits f on p. A link that fails to send is dropped.
func (n *Node) send(p *peer, f *frame) {
	if err := p.ch.Send(f.encode()); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"peer": p.id.Short(), "frame": f.kind,
		}).Error("link send failed")
		n.dropPeer(p)
	}
}

func (n *Node) handleFrame(p *peer, f *frame) {
	if n.peers[p.id] != p {
		return // stale link
	}
	key := chanKey{peer: p.id, id: f.channel, outbound: f.reply()}
	if f.kind == kindOpen {
		n.handleOpen(p, f, key)
		return
	}
	c, ok := n.chans[key]
	if !ok {
		n.log.WithFields(logrus.Fields{"frame": f.kind, "channel": f.channel}).Trace("frame for unknown channel")
		return
	}
	switch f.kind {
	case kindOpenAck:
		w, err := getWindow(f.body)
		if err != nil || !c.key.outbound {
			n.log.WithError(err).Error("invalid open-ack")
			n.send(p, c.frame(kindDestroy, nil))
			c.end()
			return
		}
		c.opened(w)
	case kindData:
		c.receive(append([]byte(nil), f.body...))
	case kindAck:
		c.credit++
		c.flush()
		if !c.gone {
			c.h.HandleWindow(c, c.credit)
		}
	case kindDestroy:
		c.end()
	default:
		n.log.WithField("frame", f.kind).Error("unexpected frame on a channel")
	}
}

func (n *Node) handleOpen(p *peer, f *frame, key chanKey) {
	refuse := func(why string) {
		n.log.WithFields(logrus.Fields{"peer": p.id.Short(), "channel": f.channel}).Debug("refusing channel: " + why)
		n.send(p, &frame{kind: kindDestroy, flags: flagReply, channel: f.channel})
	}
	if len(f.body) != len(cadet.PortHash{})+4 || key.outbound {
		refuse("malformed open")
		return
	} else if _, ok := n.chans[key]; ok {
		refuse("duplicate channel")
		return
	}
	var hash cadet.PortHash
	copy(hash[:], f.body)
	credit, _ := getWindow(f.body[len(hash):])
	reg, ok := n.ports[hash]
	if !ok {
		refuse("no such port")
		return
	}
	c := newChannel(n, key, nil)
	c.port = hash
	c.link = p
	c.state = chanOpen
	c.credit = credit
	n.chans[key] = c
	h := reg.accept(c, p.id)
	if h == nil || c.gone {
		if !c.gone {
			c.Destroy()
		}
		return
	}
	c.h = h
	n.send(p, &frame{kind: kindOpenAck, flags: flagReply, channel: f.channel, body: putWindow(n.window)})
	if !c.gone {
		h.HandleWindow(c, c.credit)
	}
}

type peer struct {
	id cadet.PeerID
	ch link.Channel
}

type chanKey struct {
	peer     cadet.PeerID
	id       uint32
	outbound bool // initiated by this node
}

type portReg struct {
	node   *Node
	hash   cadet.PortHash
	accept cadet.AcceptFunc
}

// Close implements the cadet.PortHandle interface.
func (r *portReg) Close() {
	if r.node.ports[r.hash] == r {
		delete(r.node.ports, r.hash)
	}
}
