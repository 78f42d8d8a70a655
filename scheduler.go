// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Dispatcher decides where inbound events and invocations run.
type Dispatcher interface {
	Dispatch(fn func())
}

type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(fn func()) { fn() }

// Inline runs work on the goroutine that received it.
var Inline Dispatcher = inlineDispatcher{}

// Scheduler runs dispatched work one task at a time, in FIFO order, on the
// goroutine that calls Run. Give each process its own Scheduler.
type Scheduler struct {
	mu    sync.Mutex
	tasks *queue.Queue
	wake  chan struct{}
}

// NewScheduler returns an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks: queue.New(),
		wake:  make(chan struct{}, 1),
	}
}

// Dispatch queues fn. It never blocks.
func (s *Scheduler) Dispatch(fn func()) {
	s.mu.Lock()
	s.tasks.Add(fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Length()
}

func (s *Scheduler) next() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks.Length() == 0 {
		return nil
	}
	return s.tasks.Remove().(func())
}

// Run executes queued tasks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		for fn := s.next(); fn != nil; fn = s.next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}
