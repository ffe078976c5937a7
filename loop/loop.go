// Package loop implements a single-goroutine cooperative event loop.
//
// A Loop runs posted tasks one at a time, in the order they were posted, on
// the goroutine that calls Run. Tasks may be posted from any goroutine,
// including from a running task. Code that only ever runs inside tasks of one
// loop needs no further synchronization among those tasks.
package loop

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Post after the loop has been stopped.
var ErrStopped = errors.New("loop: stopped")

// Options control the behaviour of a loop created by New.
// A nil *Options provides sensible defaults.
type Options struct {
	// If not nil, send debug logs here.
	Logger *logrus.Entry
}

func (o *Options) logger() *logrus.Entry {
	if o == nil || o.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "loop")
	}
	return o.Logger
}

// A Loop is a cooperative event loop. The zero value is not ready for use;
// construct one with New.
type Loop struct {
	log  *logrus.Entry
	work chan struct{} // for signaling task availability
	done chan struct{} // closed when Run returns

	mu      sync.Mutex   // protects the fields below
	tasks   *queue.Queue // of func(), awaiting execution
	running bool
	stopped bool
}

// New constructs a new, unstarted loop. Call Run or Start to begin
// executing tasks.
func New(opts *Options) *Loop {
	return &Loop{
		log:   opts.logger(),
		work:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		tasks: queue.New(),
	}
}

// Start runs the loop in a new goroutine and returns l to allow chaining
// with construction.
func (l *Loop) Start() *Loop { go l.Run(); return l }

// Run executes tasks until the loop is stopped and every task posted before
// the stop has run. It panics if the loop is already running.
func (l *Loop) Run() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		panic("loop is already running")
	}
	l.running = true
	l.mu.Unlock()

	defer close(l.done)
	for {
		task, ok := l.next()
		if !ok {
			l.log.Debug("loop drained and stopped")
			return
		}
		task()
	}
}

// next blocks until a task is available and removes it from the queue. It
// reports false once the loop is stopped and the queue is empty.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.stopped && l.tasks.Length() == 0 {
		l.mu.Unlock()
		<-l.work
		l.mu.Lock()
	}
	if l.tasks.Length() == 0 {
		return nil, false
	}
	return l.tasks.Remove().(func()), true
}

func (l *Loop) signal() {
	select {
	case l.work <- struct{}{}:
	default:
	}
}

// Post adds task to the end of the queue. It never runs task inline, even
// when called from a task of l. Post reports ErrStopped, and discards task,
// if l has been stopped.
func (l *Loop) Post(task func()) error {
	if task == nil {
		panic("nil task")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	l.tasks.Add(task)
	l.signal()
	return nil
}

// Len reports the number of tasks waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

// Stop prevents further tasks from being posted. Tasks already queued still
// run. Stop does not wait for the loop to finish; use Wait for that. It is
// safe to call Stop more than once, and from inside a task.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		l.signal()
	}
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() { <-l.done }

// Sync blocks until every task posted before the call has run. It reports
// ErrStopped if l was stopped first. Sync must not be called from a task of
// l, or it will deadlock.
func (l *Loop) Sync() error {
	ready := make(chan struct{})
	if err := l.Post(func() { close(ready) }); err != nil {
		return err
	}
	<-ready
	return nil
}
