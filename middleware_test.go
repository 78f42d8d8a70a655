// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	rl := RateLimiter(3, 5*time.Second)

	for i := 0; i < 3; i++ {
		if _, err := rl.Start(clock.Now()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := rl.Start(clock.Now()); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("fourth call: got %v, want ErrTooManyRequests", err)
	}

	// The window is still open at exactly its length.
	clock.Advance(5 * time.Second)
	if _, err := rl.Start(clock.Now()); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("at window end: got %v, want ErrTooManyRequests", err)
	}

	clock.Advance(time.Millisecond)
	for i := 0; i < 3; i++ {
		if _, err := rl.Start(clock.Now()); err != nil {
			t.Fatalf("new window call %d: %v", i, err)
		}
	}
	if _, err := rl.Start(clock.Now()); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("new window fourth call: got %v, want ErrTooManyRequests", err)
	}
}

func TestRateLimiterRejectionsDoNotCount(t *testing.T) {
	clock := newFakeClock()
	rl := RateLimiter(1, time.Second)

	if _, err := rl.Start(clock.Now()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := rl.Start(clock.Now()); err == nil {
			t.Fatal("admitted over the limit")
		}
	}
	clock.Advance(2 * time.Second)
	if _, err := rl.Start(clock.Now()); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestTimeoutPoll(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()

	poll, err := Timeout(time.Second).Start(start)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := poll(start.Add(time.Second)); err != nil {
		t.Fatalf("at deadline: %v", err)
	}
	err = poll(start.Add(time.Second + time.Nanosecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("past deadline: got %v, want ErrTimeout", err)
	}
	if err.Error() != "Request timeout reached" {
		t.Errorf("message = %q", err.Error())
	}
}
