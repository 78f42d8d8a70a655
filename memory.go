// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Network connects one server and any number of clients inside a single
// process. Each side runs inbound work on its own Dispatcher, so a Network
// with a Scheduler per side behaves like separate processes.
type Network struct {
	opts []TransportOption

	mu         sync.Mutex
	server     *memoryServer
	endpoints  map[string]*memoryEndpoint
	clients    map[PeerID]*memoryClient
	order      []PeerID
	registered chan struct{}
	closed     bool
}

// NewNetwork returns an empty network. opts apply to every side.
func NewNetwork(opts ...TransportOption) *Network {
	n := &Network{
		opts:       opts,
		endpoints:  make(map[string]*memoryEndpoint),
		clients:    make(map[PeerID]*memoryClient),
		registered: make(chan struct{}),
	}
	n.server = &memoryServer{net: n, opts: n.options(nil)}
	return n
}

func (n *Network) options(extra []TransportOption) *transportOptions {
	opts := append([]TransportOption{WithTransport("memory")}, n.opts...)
	return newTransportOptions(append(opts, extra...))
}

// Server returns the network's server transport. opts replace the ones of
// any earlier call.
func (n *Network) Server(opts ...TransportOption) Transport {
	if len(opts) > 0 {
		n.mu.Lock()
		n.server.opts = n.options(opts)
		n.mu.Unlock()
	}
	return n.server
}

// Connect adds a client. An empty id is replaced by a random one.
func (n *Network) Connect(id PeerID, opts ...TransportOption) (Transport, error) {
	if id == NoPeer {
		id = PeerID(uuid.NewString())
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	if _, ok := n.clients[id]; ok {
		return nil, fmt.Errorf("peer %s already connected", id)
	}

	c := &memoryClient{
		net:       n,
		id:        id,
		opts:      n.options(opts),
		endpoints: make(map[string]*memoryEndpoint),
	}
	n.clients[id] = c
	n.order = append(n.order, id)
	c.opts.logger.Debug("peer connected", "peer", string(id))
	return c, nil
}

// broadcast wakes every Open waiting for an endpoint. Callers hold n.mu.
func (n *Network) broadcast() {
	close(n.registered)
	n.registered = make(chan struct{})
}

type memoryServer struct {
	net  *Network
	opts *transportOptions
}

func (s *memoryServer) Role() Role { return RoleServer }

func (s *memoryServer) Open(_ context.Context, name string, kind Kind) (Endpoint, error) {
	n := s.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	if _, ok := n.endpoints[name]; ok {
		return nil, newError(CodeChannelExists, fmt.Sprintf("%s %s already exists.", kind, name), nil)
	}

	ep := &memoryEndpoint{net: n, name: name, kind: kind, dispatcher: s.opts.dispatcher}
	n.endpoints[name] = ep
	n.broadcast()
	return ep, nil
}

func (s *memoryServer) Peers() []PeerID {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	return append([]PeerID(nil), s.net.order...)
}

func (s *memoryServer) Close() error {
	n := s.net
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.broadcast()
	endpoints := make([]*memoryEndpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		endpoints = append(endpoints, ep)
	}
	n.mu.Unlock()

	for _, ep := range endpoints {
		_ = ep.Close()
	}
	return nil
}

type memoryClient struct {
	net  *Network
	id   PeerID
	opts *transportOptions

	// guarded by net.mu
	endpoints map[string]*memoryEndpoint
	closed    bool
}

func (c *memoryClient) Role() Role { return RoleClient }

// Open waits until the server has created name.
func (c *memoryClient) Open(ctx context.Context, name string, kind Kind) (Endpoint, error) {
	n := c.net
	for {
		n.mu.Lock()
		if c.closed || n.closed {
			n.mu.Unlock()
			return nil, ErrClosed
		}
		if _, ok := c.endpoints[name]; ok {
			n.mu.Unlock()
			return nil, newError(CodeChannelExists, fmt.Sprintf("%s %s already exists.", kind, name), nil)
		}
		if _, ok := n.endpoints[name]; ok {
			ep := &memoryEndpoint{net: n, client: c, name: name, kind: kind, dispatcher: c.opts.dispatcher}
			c.endpoints[name] = ep
			n.mu.Unlock()
			return ep, nil
		}
		registered := n.registered
		n.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not created by server", name), ctx.Err())
		case <-registered:
		}
	}
}

func (c *memoryClient) Peers() []PeerID { return nil }

func (c *memoryClient) Close() error {
	n := c.net
	n.mu.Lock()
	if c.closed {
		n.mu.Unlock()
		return nil
	}
	c.closed = true
	delete(n.clients, c.id)
	for i, id := range n.order {
		if id == c.id {
			n.order = append(n.order[:i:i], n.order[i+1:]...)
			break
		}
	}
	endpoints := c.endpoints
	c.endpoints = make(map[string]*memoryEndpoint)
	n.mu.Unlock()

	for _, ep := range endpoints {
		ep.destroy()
	}
	c.opts.logger.Debug("peer disconnected", "peer", string(c.id))
	return nil
}

// memoryEndpoint is one side of a named channel. client is nil on the server.
type memoryEndpoint struct {
	net        *Network
	client     *memoryClient
	name       string
	kind       Kind
	dispatcher Dispatcher

	signal Signal[Delivery]
	answer atomic.Pointer[InvokeHandler]
	closed atomic.Bool
}

func (e *memoryEndpoint) Name() string { return e.name }
func (e *memoryEndpoint) Kind() Kind { return e.kind }

func (e *memoryEndpoint) Subscribe(fn func(Delivery)) *Connection {
	return e.signal.Subscribe(fn)
}

func (e *memoryEndpoint) Answer(h InvokeHandler) {
	e.answer.Store(&h)
}

// remote finds the endpoint on the other side and the sender id it will see.
// A nil endpoint means the peer exists but has not attached to the channel.
func (e *memoryEndpoint) remote(to PeerID) (*memoryEndpoint, PeerID, error) {
	n := e.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if e.client != nil {
		return n.endpoints[e.name], e.client.id, nil
	}
	c, ok := n.clients[to]
	if !ok {
		return nil, NoPeer, newError(CodeNotAttached, fmt.Sprintf("peer %s not connected", to), nil)
	}
	return c.endpoints[e.name], NoPeer, nil
}

func (e *memoryEndpoint) Fire(_ context.Context, to PeerID, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	peer, from, err := e.remote(to)
	if err != nil {
		return err
	}
	if peer == nil {
		return nil
	}

	d := Delivery{From: from, Payload: append([]byte(nil), payload...)}
	peer.dispatcher.Dispatch(func() { peer.signal.Fire(d) })
	return nil
}

type memoryResult struct {
	data []byte
	err  error
}

// Invoke runs the remote handler on its dispatcher. Cancelling ctx abandons
// the wait; the handler itself runs to completion.
func (e *memoryEndpoint) Invoke(ctx context.Context, to PeerID, payload []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	peer, from, err := e.remote(to)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not attached by %s", e.name, to), nil)
	}
	h := peer.answer.Load()
	if h == nil {
		return nil, newError(CodeNotAttached, fmt.Sprintf("channel %s has no answer", e.name), nil)
	}

	arg := append([]byte(nil), payload...)
	done := make(chan memoryResult, 1)
	handlerCtx := context.WithoutCancel(ctx)
	go peer.dispatcher.Dispatch(func() {
		data, err := (*h)(handlerCtx, from, arg)
		done <- memoryResult{data: data, err: err}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

func (e *memoryEndpoint) Close() error {
	n := e.net
	n.mu.Lock()
	if e.client == nil {
		if n.endpoints[e.name] == e {
			delete(n.endpoints, e.name)
		}
	} else if e.client.endpoints[e.name] == e {
		delete(e.client.endpoints, e.name)
	}
	n.mu.Unlock()

	e.destroy()
	return nil
}

func (e *memoryEndpoint) destroy() {
	if e.closed.Swap(true) {
		return
	}
	e.signal.Destroy()
}
