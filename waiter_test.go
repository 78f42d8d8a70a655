// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaiterResult(t *testing.T) {
	w, err := startWaiter(nil, SystemClock, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.wait(context.Background(), func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(got) != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestWaiterStartStopsAtFirstRejection(t *testing.T) {
	started := 0
	counting := MiddlewareFunc(func(time.Time) (Poll, error) {
		started++
		return nil, nil
	})
	reject := MiddlewareFunc(func(time.Time) (Poll, error) {
		return nil, ErrTooManyRequests
	})

	_, err := startWaiter([]Middleware{counting, reject, counting}, SystemClock, time.Millisecond)
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("got %v, want ErrTooManyRequests", err)
	}
	if started != 1 {
		t.Fatalf("started = %d, want 1", started)
	}
}

func TestWaiterTimeoutCancelsInvocation(t *testing.T) {
	w, err := startWaiter([]Middleware{Timeout(20 * time.Millisecond)}, SystemClock, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	cancelled := make(chan struct{})
	_, err = w.wait(context.Background(), func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("invocation context was not cancelled")
	}
}

func TestWaiterRejectionWinsSameTick(t *testing.T) {
	clock := newFakeClock()
	w, err := startWaiter([]Middleware{Timeout(time.Second)}, clock, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	// The result is ready, but the deadline passed before it was observed.
	clock.Advance(2 * time.Second)
	_, err = w.wait(context.Background(), func(context.Context) ([]byte, error) {
		return []byte("late"), nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestWaiterCancelled(t *testing.T) {
	w, err := startWaiter(nil, SystemClock, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = w.wait(ctx, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cause %v does not wrap context.Canceled", err)
	}
}

func TestWaiterInvocationError(t *testing.T) {
	w, err := startWaiter([]Middleware{Timeout(time.Hour)}, SystemClock, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	_, err = w.wait(context.Background(), func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}
