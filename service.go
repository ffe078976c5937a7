package cadet

import (
	"sync"

	"github.com/cadetchan/cadet/metrics"
	"github.com/sirupsen/logrus"
)

// A Service binds channels and ports to a Runtime. It runs a local loop for
// channel state and completion callbacks, and tracks the channels and ports
// it has created so that Close can release them.
type Service struct {
	sched *Scheduler
	log   *logrus.Entry
	m     *metrics.M

	// Each live channel and port holds a reference until its handle has been
	// released on the worker.
	refs sync.WaitGroup

	mu     sync.Mutex
	closed bool
	nextID uint64
	live   map[shutdowner]struct{}
}

type shutdowner interface{ shutdown() }

// NewService constructs a new service that drives rt. The service's loop is
// started immediately. Call Close to release it.
func NewService(rt Runtime, opts *ServiceOptions) *Service {
	log := opts.logger()
	s := &Service{
		sched: newScheduler(rt, log),
		log:   log,
		m:     opts.metrics(),
		live:  make(map[shutdowner]struct{}),
	}
	log.WithField("peer", rt.Identity().Short()).Debug("service started")
	return s
}

// Identity returns the text form of the local peer identity.
func (s *Service) Identity() string { return s.sched.rt.Identity().String() }

// Scheduler returns the scheduler shared by the channels of s.
func (s *Service) Scheduler() *Scheduler { return s.sched }

// Metrics returns a snapshot of the statistics recorded by s.
func (s *Service) Metrics() metrics.Snapshot { return s.m.Snapshot() }

// NewChannel returns a new idle channel bound to s. The caller must Close the
// channel when it is no longer needed. A channel created after s is closed is
// already closed, and every operation on it reports ErrAborted.
func (s *Service) NewChannel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := newChannelImpl(s, s.nextID)
	if s.closed {
		e.state = stateClosed
	} else {
		s.refs.Add(1)
		s.live[e] = struct{}{}
		s.m.Count(metrics.ChannelsCreated, 1)
	}
	return newChannel(e)
}

// NewPort returns a new port bound to s. The port registers its rendezvous
// name with the runtime on the first call to Open. The caller must Close the
// port when it is no longer needed.
func (s *Service) NewPort() *Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := newPort(s, s.nextID)
	if s.closed {
		p.closed = true
	} else {
		s.refs.Add(1)
		s.live[p] = struct{}{}
	}
	return p
}

// forget removes v from the live set of s.
func (s *Service) forget(v shutdowner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, v)
}

// release drops one reference taken by NewChannel or NewPort.
func (s *Service) release() { s.refs.Done() }

// Close closes every channel and port of s that is still open, waits until
// the runtime has released their handles, and then stops the local loop after
// it has run every pending callback. Close is idempotent. It must not be
// called from a completion callback.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := make([]shutdowner, 0, len(s.live))
	for v := range s.live {
		live = append(live, v)
	}
	s.mu.Unlock()

	s.log.WithField("open", len(live)).Debug("service closing")
	for _, v := range live {
		v.shutdown()
	}
	s.refs.Wait()
	s.sched.loop.Stop()
	s.sched.loop.Wait()
	s.log.Debug("service closed")
	return nil
}
