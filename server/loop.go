// Package server provides support routines for running cadet services.
package server

import (
	"context"
	"errors"
	"runtime"

	"github.com/cadetchan/cadet"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// A Handler serves one accepted channel. Loop closes the channel when the
// handler returns.
type Handler func(context.Context, *cadet.Channel) error

// LoopOptions control the behaviour of Loop.
// A nil *LoopOptions provides sensible defaults.
type LoopOptions struct {
	// The maximum number of handlers to run concurrently. A value less than
	// 1 uses runtime.NumCPU().
	Concurrency int

	// If not nil, send debug logs here.
	Logger *logrus.Entry
}

func (o *LoopOptions) concurrency() int64 {
	if o == nil || o.Concurrency < 1 {
		return int64(runtime.NumCPU())
	}
	return int64(o.Concurrency)
}

func (o *LoopOptions) logger() *logrus.Entry {
	if o == nil || o.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "server")
	}
	return o.Logger
}

// Loop accepts successive channels on port p under the rendezvous name, and
// runs handle for each in a new goroutine. At most opts.Concurrency handlers
// run at once; while that many are active, no further channel is opened.
//
// Loop runs until ctx ends or an open fails. It then waits for all active
// handlers to return. It reports nil if it stopped because ctx ended, and
// otherwise the error from the failed open.
func Loop(ctx context.Context, svc *cadet.Service, p *cadet.Port, name string, handle Handler, opts *LoopOptions) error {
	log := opts.logger().WithField("port", name)
	limit := opts.concurrency()
	sem := semaphore.NewWeighted(limit)

	var err error
	for {
		if err = sem.Acquire(ctx, 1); err != nil {
			break
		}
		ch := svc.NewChannel()
		if err = p.Open(ctx, ch, name); err != nil {
			sem.Release(1)
			ch.Close()
			break
		}
		log.Debug("accepted channel")
		go func() {
			defer sem.Release(1)
			defer ch.Close()
			if err := handle(ctx, ch); err != nil {
				log.WithError(err).Warn("handler failed")
			}
		}()
	}

	// Wait for active handlers by taking the whole semaphore.
	sem.Acquire(context.Background(), limit)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil
		}
	}
	return err
}
