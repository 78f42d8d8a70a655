// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// frameConn is one client connection as seen by the link layer. WriteFrame
// must be safe for concurrent use; ReadFrame is only called by one goroutine.
type frameConn interface {
	WriteFrame(f *frame) error
	ReadFrame() (*frame, error)
	Close() error
}

// caller tracks the outstanding requests made over one connection.
type caller struct {
	conn    frameConn
	pending sync.Map // id -> chan *frame
	nextID  atomic.Uint32
	done    chan struct{}
}

func newCaller(conn frameConn) *caller {
	return &caller{conn: conn, done: make(chan struct{})}
}

// call writes f as a request and waits for the frame answering it.
func (c *caller) call(ctx context.Context, f *frame) ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	f.ID = c.nextID.Add(1)
	respCh := make(chan *frame, 1)
	c.pending.Store(f.ID, respCh)
	defer c.pending.Delete(f.ID)

	if err := c.conn.WriteFrame(f); err != nil {
		return nil, fmt.Errorf("write %s: %w", f.Type, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Type == frameError {
			return nil, decodeFrameError(resp.Payload)
		}
		return resp.Payload, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *caller) resolve(f *frame) {
	ch, ok := c.pending.Load(f.ID)
	if !ok {
		return
	}
	select {
	case ch.(chan *frame) <- f:
	default:
	}
}

func (c *caller) respond(id uint32, data []byte, err error) error {
	if err != nil {
		return c.conn.WriteFrame(&frame{Type: frameError, ID: id, Payload: encodeFrameError(err)})
	}
	return c.conn.WriteFrame(&frame{Type: frameResponse, ID: id, Payload: data})
}

// stop fails every outstanding call. It must be called once, by the
// goroutine reading the connection.
func (c *caller) stop() {
	close(c.done)
}

// linkEndpoint is an Endpoint whose outbound side is supplied by the owning
// link.
type linkEndpoint struct {
	name       string
	kind       Kind
	dispatcher Dispatcher
	log        *slog.Logger

	signal Signal[Delivery]
	answer atomic.Pointer[InvokeHandler]
	closed atomic.Bool

	fire    func(ctx context.Context, to PeerID, payload []byte) error
	invoke  func(ctx context.Context, to PeerID, payload []byte) ([]byte, error)
	release func()
}

func (e *linkEndpoint) Name() string { return e.name }
func (e *linkEndpoint) Kind() Kind { return e.kind }

func (e *linkEndpoint) Subscribe(fn func(Delivery)) *Connection {
	return e.signal.Subscribe(fn)
}

func (e *linkEndpoint) Answer(h InvokeHandler) {
	e.answer.Store(&h)
}

func (e *linkEndpoint) Fire(ctx context.Context, to PeerID, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.fire(ctx, to, payload)
}

func (e *linkEndpoint) Invoke(ctx context.Context, to PeerID, payload []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.invoke(ctx, to, payload)
}

func (e *linkEndpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.release != nil {
		e.release()
	}
	e.signal.Destroy()
	return nil
}

// deliver publishes an inbound event on the endpoint's dispatcher.
func (e *linkEndpoint) deliver(from PeerID, payload []byte) {
	if e.closed.Load() {
		return
	}
	d := Delivery{From: from, Payload: payload}
	e.dispatcher.Dispatch(func() { e.signal.Fire(d) })
}

// serve answers an inbound request on the endpoint's dispatcher.
func (e *linkEndpoint) serve(ctx context.Context, c *caller, from PeerID, f *frame) {
	h := e.answer.Load()
	if h == nil || e.closed.Load() {
		if err := c.respond(f.ID, nil, newError(CodeNotAttached, fmt.Sprintf("channel %s has no answer", e.name), nil)); err != nil {
			e.log.Debug("failed to respond", "channel", e.name, "error", err)
		}
		return
	}

	id, payload := f.ID, f.Payload
	go e.dispatcher.Dispatch(func() {
		data, err := (*h)(ctx, from, payload)
		if err := c.respond(id, data, err); err != nil {
			e.log.Debug("failed to respond", "channel", e.name, "error", err)
		}
	})
}

// linkPeer is a client connection held by a linkServer.
type linkPeer struct {
	id     PeerID
	conn   frameConn
	caller *caller

	mu       sync.Mutex
	attached map[string]bool
}

func (p *linkPeer) attach(name string) {
	p.mu.Lock()
	p.attached[name] = true
	p.mu.Unlock()
}

func (p *linkPeer) isAttached(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached[name]
}

// linkServer is the server half of a link transport. Transports feed it
// accepted connections through serveConn.
type linkServer struct {
	opts *transportOptions
	log  *slog.Logger

	mu         sync.Mutex
	endpoints  map[string]*linkEndpoint
	registered chan struct{}
	peers      map[PeerID]*linkPeer
	order      []PeerID
	closed     bool
}

func newLinkServer(opts *transportOptions) *linkServer {
	return &linkServer{
		opts:       opts,
		log:        opts.logger,
		endpoints:  make(map[string]*linkEndpoint),
		registered: make(chan struct{}),
		peers:      make(map[PeerID]*linkPeer),
	}
}

func (s *linkServer) Role() Role { return RoleServer }

func (s *linkServer) Open(_ context.Context, name string, kind Kind) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.endpoints[name]; ok {
		return nil, newError(CodeChannelExists, fmt.Sprintf("%s %s already exists.", kind, name), nil)
	}

	ep := &linkEndpoint{
		name:       name,
		kind:       kind,
		dispatcher: s.opts.dispatcher,
		log:        s.log,
	}
	ep.fire = func(_ context.Context, to PeerID, payload []byte) error {
		p, err := s.peer(to)
		if err != nil {
			return err
		}
		if !p.isAttached(name) {
			return nil
		}
		return p.conn.WriteFrame(&frame{Type: frameEvent, Name: name, Payload: payload})
	}
	ep.invoke = func(ctx context.Context, to PeerID, payload []byte) ([]byte, error) {
		p, err := s.peer(to)
		if err != nil {
			return nil, err
		}
		if !p.isAttached(name) {
			return nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not attached by %s", name, to), nil)
		}
		return p.caller.call(ctx, &frame{Type: frameRequest, Name: name, Payload: payload})
	}
	ep.release = func() {
		s.mu.Lock()
		if s.endpoints[name] == ep {
			delete(s.endpoints, name)
		}
		s.mu.Unlock()
	}

	s.endpoints[name] = ep
	close(s.registered)
	s.registered = make(chan struct{})
	return ep, nil
}

func (s *linkServer) Peers() []PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PeerID(nil), s.order...)
}

func (s *linkServer) peer(id PeerID) (*linkPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return nil, newError(CodeNotAttached, fmt.Sprintf("peer %s not connected", id), nil)
	}
	return p, nil
}

func (s *linkServer) endpoint(name string) *linkEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[name]
}

func (s *linkServer) addPeer(conn frameConn) (*linkPeer, error) {
	p := &linkPeer{
		id:       PeerID(uuid.NewString()),
		conn:     conn,
		caller:   newCaller(conn),
		attached: make(map[string]bool),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.peers[p.id] = p
	s.order = append(s.order, p.id)
	return p, nil
}

func (s *linkServer) removePeer(p *linkPeer) {
	s.mu.Lock()
	delete(s.peers, p.id)
	for i, id := range s.order {
		if id == p.id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// serveConn runs one client connection until it fails or the server closes.
func (s *linkServer) serveConn(ctx context.Context, conn frameConn) error {
	p, err := s.addPeer(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	log := s.log.With("peer", string(p.id))
	log.Debug("peer connected")
	defer func() {
		s.removePeer(p)
		p.caller.stop()
		_ = conn.Close()
		log.Debug("peer disconnected")
	}()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return err
		}

		switch f.Type {
		case frameAttach:
			go s.attach(ctx, p, f)
		case frameEvent:
			if ep := s.endpoint(f.Name); ep != nil && p.isAttached(f.Name) {
				ep.deliver(p.id, f.Payload)
			}
		case frameRequest:
			ep := s.endpoint(f.Name)
			if ep == nil {
				_ = p.caller.respond(f.ID, nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not created by server", f.Name), nil))
				continue
			}
			ep.serve(ctx, p.caller, p.id, f)
		case frameResponse, frameError:
			p.caller.resolve(f)
		default:
			log.Warn("dropping frame", "type", f.Type.String())
		}
	}
}

// attach holds a client's attach request until the channel exists, the
// attach timeout passes, or the connection ends.
func (s *linkServer) attach(ctx context.Context, p *linkPeer, f *frame) {
	timer := time.NewTimer(s.opts.attachTimeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		_, ok := s.endpoints[f.Name]
		registered, closed := s.registered, s.closed
		s.mu.Unlock()

		if closed {
			_ = p.caller.respond(f.ID, nil, ErrClosed)
			return
		}
		if ok {
			p.attach(f.Name)
			if err := p.caller.respond(f.ID, nil, nil); err != nil {
				s.log.Debug("failed to confirm attach", "peer", string(p.id), "channel", f.Name, "error", err)
			}
			return
		}

		select {
		case <-registered:
		case <-timer.C:
			_ = p.caller.respond(f.ID, nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not created by server", f.Name), nil))
			return
		case <-ctx.Done():
			return
		case <-p.caller.done:
			return
		}
	}
}

// shutdown stops accepting attaches and closes every connection.
func (s *linkServer) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.registered)
	s.registered = make(chan struct{})
	peers := make([]*linkPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	endpoints := make([]*linkEndpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		endpoints = append(endpoints, ep)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
	for _, ep := range endpoints {
		_ = ep.Close()
	}
}

// linkClient is the client half of a link transport.
type linkClient struct {
	opts   *transportOptions
	log    *slog.Logger
	conn   frameConn
	caller *caller

	mu        sync.Mutex
	endpoints map[string]*linkEndpoint
	closed    bool
}

func newLinkClient(conn frameConn, opts *transportOptions) *linkClient {
	c := &linkClient{
		opts:      opts,
		log:       opts.logger,
		conn:      conn,
		caller:    newCaller(conn),
		endpoints: make(map[string]*linkEndpoint),
	}
	go c.readLoop()
	return c
}

func (c *linkClient) Role() Role { return RoleClient }

func (c *linkClient) Peers() []PeerID { return nil }

// Open attaches to name, waiting for the server to create it.
func (c *linkClient) Open(ctx context.Context, name string, kind Kind) (Endpoint, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.endpoints[name]; ok {
		c.mu.Unlock()
		return nil, newError(CodeChannelExists, fmt.Sprintf("%s %s already exists.", kind, name), nil)
	}

	ep := &linkEndpoint{
		name:       name,
		kind:       kind,
		dispatcher: c.opts.dispatcher,
		log:        c.log,
	}
	ep.fire = func(_ context.Context, _ PeerID, payload []byte) error {
		return c.conn.WriteFrame(&frame{Type: frameEvent, Name: name, Payload: payload})
	}
	ep.invoke = func(ctx context.Context, _ PeerID, payload []byte) ([]byte, error) {
		return c.caller.call(ctx, &frame{Type: frameRequest, Name: name, Payload: payload})
	}
	ep.release = func() {
		c.mu.Lock()
		if c.endpoints[name] == ep {
			delete(c.endpoints, name)
		}
		c.mu.Unlock()
	}
	c.endpoints[name] = ep
	c.mu.Unlock()

	if _, err := c.caller.call(ctx, &frame{Type: frameAttach, Name: name}); err != nil {
		_ = ep.Close()
		if ctx.Err() != nil {
			return nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not created by server", name), err)
		}
		return nil, err
	}
	c.log.Debug("channel attached", "channel", name)
	return ep, nil
}

func (c *linkClient) endpoint(name string) *linkEndpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[name]
}

func (c *linkClient) readLoop() {
	defer c.caller.stop()

	ctx := context.Background()
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warn("connection lost", "error", err)
			}
			return
		}

		switch f.Type {
		case frameEvent:
			if ep := c.endpoint(f.Name); ep != nil {
				ep.deliver(NoPeer, f.Payload)
			}
		case frameRequest:
			ep := c.endpoint(f.Name)
			if ep == nil {
				_ = c.caller.respond(f.ID, nil, newError(CodeNotAttached, fmt.Sprintf("channel %s not attached", f.Name), nil))
				continue
			}
			ep.serve(ctx, c.caller, NoPeer, f)
		case frameResponse, frameError:
			c.caller.resolve(f)
		default:
			c.log.Warn("dropping frame", "type", f.Type.String())
		}
	}
}

func (c *linkClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	endpoints := make([]*linkEndpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		endpoints = append(endpoints, ep)
	}
	c.mu.Unlock()

	for _, ep := range endpoints {
		_ = ep.Close()
	}
	return c.conn.Close()
}
