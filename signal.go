// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import "sync"

// Connection is returned by every Subscribe. Its only capability is to stop
// further deliveries; Disconnect after the first call is a no-op.
type Connection struct {
	once    sync.Once
	release func()
}

func newConnection(release func()) *Connection {
	return &Connection{release: release}
}

// Disconnect stops the subscription.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Source is anything listeners can subscribe to.
type Source[T any] interface {
	Subscribe(fn func(T)) *Connection
}

// SourceFunc adapts a function to the Source interface
type SourceFunc[T any] func(fn func(T)) *Connection

func (f SourceFunc[T]) Subscribe(fn func(T)) *Connection {
	return f(fn)
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Signal is a local fan-out point. Listeners run synchronously, in
// subscription order, against a snapshot taken when Fire is called.
type Signal[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
	destroyed bool
}

// Subscribe registers fn. The same function may be subscribed several times;
// each subscription is a distinct entry.
func (s *Signal[T]) Subscribe(fn func(T)) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return &Connection{}
	}

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	return newConnection(func() { s.remove(id) })
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Fire delivers v to every listener present at the time of the call.
func (s *Signal[T]) Fire(v T) {
	s.mu.Lock()
	snapshot := s.listeners
	s.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of live listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// UnsubscribeAll drops every listener.
func (s *Signal[T]) UnsubscribeAll() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

// Destroy drops every listener and turns later Subscribe calls into no-ops.
func (s *Signal[T]) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.listeners = nil
	s.mu.Unlock()
}

// Readonly hides Fire from holders of the returned Source.
func (s *Signal[T]) Readonly() Source[T] {
	return SourceFunc[T](s.Subscribe)
}

// Multiplexer shares one upstream subscription between any number of local
// listeners. The upstream is opened by the first Subscribe and closed by
// Destroy.
type Multiplexer[T any] struct {
	source Source[T]
	signal Signal[T]

	mu        sync.Mutex
	upstream  *Connection
	destroyed bool
}

// NewMultiplexer wraps source.
func NewMultiplexer[T any](source Source[T]) *Multiplexer[T] {
	return &Multiplexer[T]{source: source}
}

func (m *Multiplexer[T]) Subscribe(fn func(T)) *Connection {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return &Connection{}
	}
	if m.upstream == nil {
		m.upstream = m.source.Subscribe(m.signal.Fire)
	}
	m.mu.Unlock()

	return m.signal.Subscribe(fn)
}

// Fire injects v as if the upstream had produced it.
func (m *Multiplexer[T]) Fire(v T) {
	m.signal.Fire(v)
}

// Len returns the number of live listeners.
func (m *Multiplexer[T]) Len() int {
	return m.signal.Len()
}

// UnsubscribeAll drops every listener but keeps the upstream subscription.
func (m *Multiplexer[T]) UnsubscribeAll() {
	m.signal.UnsubscribeAll()
}

// Destroy is terminal and idempotent.
func (m *Multiplexer[T]) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	upstream := m.upstream
	m.upstream = nil
	m.mu.Unlock()

	m.signal.Destroy()
	upstream.Disconnect()
}

// ThinMultiplexer is an append-only Multiplexer for listeners that live as
// long as the multiplexer itself.
type ThinMultiplexer[T any] struct {
	source Source[T]

	mu        sync.Mutex
	listeners []func(T)
	opened    bool
	upstream  *Connection
	destroyed bool
}

// NewThinMultiplexer wraps source.
func NewThinMultiplexer[T any](source Source[T]) *ThinMultiplexer[T] {
	return &ThinMultiplexer[T]{source: source}
}

func (m *ThinMultiplexer[T]) Subscribe(fn func(T)) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.listeners = append(m.listeners, fn)
	open := !m.opened
	m.opened = true
	m.mu.Unlock()

	if !open {
		return
	}
	upstream := m.source.Subscribe(m.fire)

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		upstream.Disconnect()
		return
	}
	m.upstream = upstream
	m.mu.Unlock()
}

func (m *ThinMultiplexer[T]) fire(v T) {
	m.mu.Lock()
	snapshot := m.listeners
	m.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

func (m *ThinMultiplexer[T]) UnsubscribeAll() {
	m.mu.Lock()
	m.listeners = nil
	m.mu.Unlock()
}

func (m *ThinMultiplexer[T]) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.listeners = nil
	upstream := m.upstream
	m.upstream = nil
	m.mu.Unlock()

	upstream.Disconnect()
}
