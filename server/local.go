package server

import (
	"context"
	"sync"

	"github.com/cadetchan/cadet"
	"github.com/cadetchan/cadet/mesh"
	"github.com/sirupsen/logrus"
)

// Local is a pair of mesh nodes joined in memory, each driven by its own
// service. It is useful for tests and examples that need a working peer
// without a network.
type Local struct {
	Client, Server         *cadet.Service
	ClientNode, ServerNode *mesh.Node

	mu    sync.Mutex
	ports map[string]*cadet.Port // on Server, by rendezvous name
}

// LocalOptions control the behaviour of the pair constructed by NewLocal.
// A nil *LocalOptions provides sensible defaults.
type LocalOptions struct {
	ClientOptions *mesh.Options
	ServerOptions *mesh.Options

	// If not nil, both services log here.
	Logger *logrus.Entry
}

func (o *LocalOptions) clientOptions() *mesh.Options {
	if o == nil {
		return nil
	}
	return o.withLogger(o.ClientOptions)
}

func (o *LocalOptions) serverOptions() *mesh.Options {
	if o == nil {
		return nil
	}
	return o.withLogger(o.ServerOptions)
}

// withLogger returns a copy of m that logs to o.Logger unless m has a logger
// of its own.
func (o *LocalOptions) withLogger(m *mesh.Options) *mesh.Options {
	var out mesh.Options
	if m != nil {
		out = *m
	}
	if out.Logger == nil {
		out.Logger = o.Logger
	}
	return &out
}

func (o *LocalOptions) serviceOptions() *cadet.ServiceOptions {
	if o == nil || o.Logger == nil {
		return nil
	}
	return &cadet.ServiceOptions{Logger: o.Logger}
}

// NewLocal constructs two mesh nodes joined by an in-memory link, and a
// service for each. The caller must Close the result when it is no longer
// needed.
func NewLocal(opts *LocalOptions) (*Local, error) {
	cnode, err := mesh.New(opts.clientOptions())
	if err != nil {
		return nil, err
	}
	snode, err := mesh.New(opts.serverOptions())
	if err != nil {
		cnode.Close()
		return nil, err
	}
	if err := mesh.Connect(cnode, snode); err != nil {
		cnode.Close()
		snode.Close()
		return nil, err
	}
	return &Local{
		Client:     cadet.NewService(cnode, opts.serviceOptions()),
		Server:     cadet.NewService(snode, opts.serviceOptions()),
		ClientNode: cnode,
		ServerNode: snode,
		ports:      make(map[string]*cadet.Port),
	}, nil
}

// Port returns the server port for the rendezvous name, creating it if
// necessary. Ports are closed by Close.
func (l *Local) Port(name string) *cadet.Port {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.ports[name]
	if !ok {
		p = l.Server.NewPort()
		l.ports[name] = p
	}
	return p
}

// Connect opens a channel from the client to the named port on the server,
// and returns both ends once they are connected.
func (l *Local) Connect(ctx context.Context, port string) (client, server *cadet.Channel, err error) {
	server = l.Server.NewChannel()
	opened := make(chan error, 1)
	l.Port(port).AsyncOpen(server, port, func(err error) { opened <- err })

	// The port must be registered before the client's open reaches it.
	if err := l.syncServer(); err != nil {
		server.Close()
		return nil, nil, err
	}

	client = l.Client.NewChannel()
	if err := client.Connect(ctx, l.Server.Identity(), port); err != nil {
		client.Close()
		server.Close()
		return nil, nil, err
	}
	select {
	case err = <-opened:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		client.Close()
		server.Close()
		return nil, nil, err
	}
	return client, server, nil
}

// syncServer waits until the server's loop and node have run the work
// queued before the call.
func (l *Local) syncServer() error {
	if err := l.Server.Scheduler().Sync(); err != nil {
		return err
	}
	done := make(chan struct{})
	if err := l.ServerNode.Post(func() { close(done) }); err != nil {
		return err
	}
	<-done
	return nil
}

// Close shuts down both services and then both nodes.
func (l *Local) Close() error {
	l.mu.Lock()
	for _, p := range l.ports {
		p.Close()
	}
	l.ports = nil
	l.mu.Unlock()

	l.Client.Close()
	l.Server.Close()
	cerr := l.ClientNode.Close()
	serr := l.ServerNode.Close()
	if cerr != nil {
		return cerr
	}
	return serr
}
