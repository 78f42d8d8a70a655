// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"reflect"
	"testing"
)

func TestSignalFireOrder(t *testing.T) {
	var s Signal[int]
	var got []string

	a := func(v int) { got = append(got, "a") }
	s.Subscribe(a)
	s.Subscribe(func(v int) { got = append(got, "b") })
	s.Subscribe(a)

	s.Fire(1)
	if want := []string{"a", "b", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
}

func TestSignalDisconnectDuringFire(t *testing.T) {
	var s Signal[int]
	var second []int

	var conn *Connection
	s.Subscribe(func(int) { conn.Disconnect() })
	conn = s.Subscribe(func(v int) { second = append(second, v) })

	// The snapshot taken by Fire still includes the second listener.
	s.Fire(1)
	s.Fire(2)
	if want := []int{1}; !reflect.DeepEqual(second, want) {
		t.Fatalf("got %v, want %v", second, want)
	}
	conn.Disconnect()
}

func TestSignalSubscribeDuringFire(t *testing.T) {
	var s Signal[int]
	var late []int

	s.Subscribe(func(int) {
		s.Subscribe(func(v int) { late = append(late, v) })
	})
	s.Fire(1)
	if len(late) != 0 {
		t.Fatalf("listener added during Fire saw %v", late)
	}
	s.Fire(2)
	if want := []int{2}; !reflect.DeepEqual(late, want) {
		t.Fatalf("got %v, want %v", late, want)
	}
}

func TestSignalDestroy(t *testing.T) {
	var s Signal[int]
	calls := 0
	s.Subscribe(func(int) { calls++ })

	s.Destroy()
	conn := s.Subscribe(func(int) { calls++ })
	conn.Disconnect()
	s.Fire(1)
	if calls != 0 {
		t.Fatalf("calls = %d after Destroy", calls)
	}

	var nilConn *Connection
	nilConn.Disconnect()
}

func TestSignalUnsubscribeAll(t *testing.T) {
	var s Signal[int]
	calls := 0
	s.Subscribe(func(int) { calls++ })
	s.UnsubscribeAll()
	s.Fire(1)

	s.Subscribe(func(int) { calls++ })
	s.Fire(2)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

// countingSource records upstream subscriptions.
type countingSource struct {
	signal Signal[int]
	opened int
	closed int
}

func (c *countingSource) Subscribe(fn func(int)) *Connection {
	c.opened++
	conn := c.signal.Subscribe(fn)
	return newConnection(func() {
		c.closed++
		conn.Disconnect()
	})
}

func TestMultiplexerSharesUpstream(t *testing.T) {
	src := &countingSource{}
	m := NewMultiplexer[int](src)
	if src.opened != 0 {
		t.Fatal("upstream opened before first Subscribe")
	}

	var a, b []int
	ca := m.Subscribe(func(v int) { a = append(a, v) })
	m.Subscribe(func(v int) { b = append(b, v) })
	if src.opened != 1 {
		t.Fatalf("opened = %d, want 1", src.opened)
	}

	src.signal.Fire(1)
	ca.Disconnect()
	src.signal.Fire(2)
	m.Fire(3)

	if want := []int{1}; !reflect.DeepEqual(a, want) {
		t.Errorf("a = %v, want %v", a, want)
	}
	if want := []int{1, 2, 3}; !reflect.DeepEqual(b, want) {
		t.Errorf("b = %v, want %v", b, want)
	}

	m.UnsubscribeAll()
	if src.closed != 0 {
		t.Fatal("UnsubscribeAll closed the upstream")
	}

	m.Destroy()
	m.Destroy()
	if src.closed != 1 {
		t.Fatalf("closed = %d, want 1", src.closed)
	}
	m.Subscribe(func(int) {})
	if src.opened != 1 {
		t.Fatal("Subscribe after Destroy reopened the upstream")
	}
}

func TestThinMultiplexerSynchronousSource(t *testing.T) {
	// A source that fires while Subscribe is still running.
	src := SourceFunc[int](func(fn func(int)) *Connection {
		fn(7)
		return &Connection{}
	})
	m := NewThinMultiplexer[int](src)

	var got []int
	m.Subscribe(func(v int) { got = append(got, v) })
	if want := []int{7}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestThinMultiplexerDestroy(t *testing.T) {
	src := &countingSource{}
	m := NewThinMultiplexer[int](src)

	calls := 0
	m.Subscribe(func(int) { calls++ })
	m.Subscribe(func(int) { calls++ })
	if src.opened != 1 {
		t.Fatalf("opened = %d, want 1", src.opened)
	}
	src.signal.Fire(1)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	m.Destroy()
	src.signal.Fire(2)
	if calls != 2 || src.closed != 1 {
		t.Fatalf("calls = %d closed = %d after Destroy", calls, src.closed)
	}
}
