// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"sync"
	"time"
)

// Poll is called once per tick while a call is outstanding. A nil return
// keeps the call waiting; an error aborts it.
type Poll func(now time.Time) error

// Middleware is attached to a remote function. Start runs when a call begins
// and either rejects the call outright or returns the Poll for that call.
// A nil Poll means the middleware has nothing to check while waiting.
type Middleware interface {
	Start(now time.Time) (Poll, error)
}

// MiddlewareFunc is a function adapter for Middleware
type MiddlewareFunc func(now time.Time) (Poll, error)

func (f MiddlewareFunc) Start(now time.Time) (Poll, error) {
	return f(now)
}

// Timeout aborts a call with ErrTimeout once more than d has passed since it
// started.
func Timeout(d time.Duration) Middleware {
	return MiddlewareFunc(func(start time.Time) (Poll, error) {
		deadline := start.Add(d)
		return func(now time.Time) error {
			if now.After(deadline) {
				return ErrTimeout
			}
			return nil
		}, nil
	})
}

type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	count   int
	started time.Time
	opened  bool
}

// RateLimiter admits at most limit calls per window. The window opens with
// the first call and restarts with the first call made after it elapsed.
func RateLimiter(limit int, window time.Duration) Middleware {
	return &rateLimiter{limit: limit, window: window}
}

func (r *rateLimiter) Start(now time.Time) (Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.opened {
		r.opened = true
		r.started = now
	}
	if now.Sub(r.started) > r.window {
		r.count = 0
		r.started = now
	}
	if r.count >= r.limit {
		return nil, ErrTooManyRequests
	}

	r.count++
	return nil, nil
}

// Clock supplies the time seen by middlewares.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}
