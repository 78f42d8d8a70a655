// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"time"
)

// invokeFunc performs the remote half of a call.
type invokeFunc func(ctx context.Context) ([]byte, error)

// waiter resolves a single call. It is created by startWaiter and must not be
// reused.
type waiter struct {
	polls []Poll
	clock Clock
	tick  time.Duration
}

// startWaiter runs every middleware's Start in order. The first rejection is
// returned and nothing else happens.
func startWaiter(mws []Middleware, clock Clock, tick time.Duration) (*waiter, error) {
	w := &waiter{clock: clock, tick: tick}
	now := clock.Now()
	for _, mw := range mws {
		poll, err := mw.Start(now)
		if err != nil {
			return nil, err
		}
		if poll != nil {
			w.polls = append(w.polls, poll)
		}
	}
	return w, nil
}

// wait dispatches invoke and blocks until one outcome is known: a middleware
// rejection, the invocation's result, or cancellation of ctx. Polls always
// run before a completed result is accepted, so a rejection in the same tick
// wins. Whatever the outcome, the invocation context is cancelled on return.
func (w *waiter) wait(ctx context.Context, invoke invokeFunc) ([]byte, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		result    []byte
		resultErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, resultErr = invoke(callCtx)
	}()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	completed := false
	for {
		select {
		case <-ctx.Done():
			return nil, newError(CodeCancelled, ErrCancelled.Message, ctx.Err())
		case <-done:
			completed = true
			done = nil
		case <-ticker.C:
		}

		now := w.clock.Now()
		for _, poll := range w.polls {
			if err := poll(now); err != nil {
				return nil, err
			}
		}

		if !completed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, newError(CodeCancelled, ErrCancelled.Message, err)
		}
		return result, resultErr
	}
}
