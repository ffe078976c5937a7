package cadet

import (
	"github.com/cadetchan/cadet/loop"
	"github.com/sirupsen/logrus"
)

// A Scheduler joins the two execution contexts of a Service: the runtime's
// worker, which owns every runtime handle, and the local loop, which owns
// channel state and runs completion callbacks.
type Scheduler struct {
	rt   Runtime
	loop *loop.Loop
	log  *logrus.Entry
}

func newScheduler(rt Runtime, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		rt:   rt,
		loop: loop.New(&loop.Options{Logger: log.WithField("context", "loop")}).Start(),
		log:  log,
	}
}

// Post schedules task on the runtime worker.
func (s *Scheduler) Post(task func()) error {
	if err := s.rt.Post(task); err != nil {
		s.log.WithError(err).Debug("worker task discarded")
		return err
	}
	return nil
}

// Dispatch schedules task on the local loop. It never runs task inline.
func (s *Scheduler) Dispatch(task func()) error {
	if err := s.loop.Post(task); err != nil {
		s.log.WithError(err).Debug("loop task discarded")
		return err
	}
	return nil
}

// Runtime returns the runtime s schedules work for.
func (s *Scheduler) Runtime() Runtime { return s.rt }

// Sync blocks until every task dispatched to the loop before the call has
// run. It must not be called from the loop.
func (s *Scheduler) Sync() error { return s.loop.Sync() }
