// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"errors"
	"fmt"
)

// C2SEvent carries events from clients to the server.
//
// On the server, Invoked publishes every event with its sender, and Send
// publishes straight into Invoked with From set to NoPeer, so server code can
// treat local and remote senders alike. On a client, Send fires the event to
// the server and Invoked never fires.
type C2SEvent[T any] struct {
	channelBase
	side c2sSide[T]
}

type c2sSide[T any] interface {
	send(ctx context.Context, v T) error
	fireLocal(payload []byte) error
	invoked() Source[Message[T]]
	close()
}

// NewC2SEvent creates (server) or attaches to (client) the event called name.
func NewC2SEvent[T any](ctx context.Context, h *Host, name string, opts ...ChannelOption) (*C2SEvent[T], error) {
	o := newChannelOptions(opts)
	ep, err := h.open(ctx, name, o.kind)
	if err != nil {
		return nil, err
	}

	e := &C2SEvent[T]{channelBase: channelBase{host: h, name: name, kind: o.kind, endpoint: ep}}
	if h.Role() == RoleServer {
		e.side = &c2sServer[T]{host: h, mux: NewMultiplexer(decodedMessages[T](h, ep))}
	} else {
		e.side = &c2sClient[T]{host: h, endpoint: ep}
	}
	h.bind(e)
	return e, nil
}

// Send delivers v to the server's listeners.
func (e *C2SEvent[T]) Send(ctx context.Context, v T) error {
	return e.side.send(ctx, v)
}

// Invoked publishes events received by the server.
func (e *C2SEvent[T]) Invoked() Source[Message[T]] {
	return e.side.invoked()
}

// Close unsubscribes every listener and releases the name.
func (e *C2SEvent[T]) Close() error {
	return e.closeBase(e.side.close)
}

func (e *C2SEvent[T]) typeName() string { return "C2SEvent" }

func (e *C2SEvent[T]) fireLocal(payload []byte) error {
	return e.side.fireLocal(payload)
}

type c2sServer[T any] struct {
	host *Host
	mux  *Multiplexer[Message[T]]
}

func (s *c2sServer[T]) send(_ context.Context, v T) error {
	s.mux.Fire(Message[T]{From: NoPeer, Payload: v})
	return nil
}

func (s *c2sServer[T]) fireLocal(payload []byte) error {
	v, err := decodePayload[T](s.host.codec, payload)
	if err != nil {
		return err
	}
	return s.send(context.Background(), v)
}

func (s *c2sServer[T]) invoked() Source[Message[T]] { return s.mux }
func (s *c2sServer[T]) close() { s.mux.Destroy() }

type c2sClient[T any] struct {
	host     *Host
	endpoint Endpoint
}

func (c *c2sClient[T]) send(ctx context.Context, v T) error {
	payload, err := encodePayload(c.host.codec, v)
	if err != nil {
		return err
	}
	return c.endpoint.Fire(ctx, NoPeer, payload)
}

func (c *c2sClient[T]) fireLocal([]byte) error { return ErrWrongRole }
func (c *c2sClient[T]) invoked() Source[Message[T]] { return inert[Message[T]]() }
func (c *c2sClient[T]) close() {}

// S2CEvent carries events from the server to clients.
type S2CEvent[T any] struct {
	channelBase
	side s2cSide[T]
}

type s2cSide[T any] interface {
	send(ctx context.Context, to Target, v T) error
	invoked() Source[T]
	close()
}

// NewS2CEvent creates (server) or attaches to (client) the event called name.
func NewS2CEvent[T any](ctx context.Context, h *Host, name string, opts ...ChannelOption) (*S2CEvent[T], error) {
	o := newChannelOptions(opts)
	ep, err := h.open(ctx, name, o.kind)
	if err != nil {
		return nil, err
	}

	e := &S2CEvent[T]{channelBase: channelBase{host: h, name: name, kind: o.kind, endpoint: ep}}
	if h.Role() == RoleServer {
		e.side = &s2cServer[T]{host: h, endpoint: ep}
	} else {
		e.side = &s2cClient[T]{mux: NewMultiplexer(decodedPayloads[T](h, ep))}
	}
	h.bind(e)
	return e, nil
}

// Send fires v to every client selected by to. A failed recipient does not
// stop delivery to the others; all failures are returned together.
func (e *S2CEvent[T]) Send(ctx context.Context, to Target, v T) error {
	return e.side.send(ctx, to, v)
}

// Invoked publishes events received by a client.
func (e *S2CEvent[T]) Invoked() Source[T] {
	return e.side.invoked()
}

func (e *S2CEvent[T]) Close() error {
	return e.closeBase(e.side.close)
}

func (e *S2CEvent[T]) typeName() string { return "S2CEvent" }

type s2cServer[T any] struct {
	host     *Host
	endpoint Endpoint
}

func (s *s2cServer[T]) send(ctx context.Context, to Target, v T) error {
	payload, err := encodePayload(s.host.codec, v)
	if err != nil {
		return err
	}
	return fireAll(ctx, s.endpoint, to.Resolve(s.host.transport.Peers()), NoPeer, payload)
}

func (s *s2cServer[T]) invoked() Source[T] { return inert[T]() }
func (s *s2cServer[T]) close() {}

type s2cClient[T any] struct {
	mux *Multiplexer[T]
}

func (c *s2cClient[T]) send(context.Context, Target, T) error { return ErrWrongRole }
func (c *s2cClient[T]) invoked() Source[T] { return c.mux }
func (c *s2cClient[T]) close() { c.mux.Destroy() }

// fireAll fires payload to every peer except skip.
func fireAll(ctx context.Context, ep Endpoint, peers []PeerID, skip PeerID, payload []byte) error {
	var errs []error
	for _, p := range peers {
		if skip != NoPeer && p == skip {
			continue
		}
		if err := ep.Fire(ctx, p, payload); err != nil {
			errs = append(errs, fmt.Errorf("fire %s to %s: %w", ep.Name(), p, err))
		}
	}
	return errors.Join(errs...)
}

// BidirectionalEvent pairs an S2C and a C2S event under one name. The halves
// are named name+"_s2c" and name+"_c2s".
type BidirectionalEvent[T any] struct {
	S2C *S2CEvent[T]
	C2S *C2SEvent[T]
}

// NewBidirectionalEvent creates both halves.
func NewBidirectionalEvent[T any](ctx context.Context, h *Host, name string, opts ...ChannelOption) (*BidirectionalEvent[T], error) {
	s2c, err := NewS2CEvent[T](ctx, h, name+"_s2c", opts...)
	if err != nil {
		return nil, err
	}
	c2s, err := NewC2SEvent[T](ctx, h, name+"_c2s", opts...)
	if err != nil {
		_ = s2c.Close()
		return nil, err
	}
	return &BidirectionalEvent[T]{S2C: s2c, C2S: c2s}, nil
}

func (e *BidirectionalEvent[T]) Close() error {
	return errors.Join(e.S2C.Close(), e.C2S.Close())
}

// C2CEvent relays events from one client to all the others.
//
// A client's Send publishes v on its own Invoked and fires it to the server,
// which relays it to every other connected client. The server's Send fires
// to every client. Invoked never fires on the server.
type C2CEvent[T any] struct {
	channelBase
	side c2cSide[T]
}

type c2cSide[T any] interface {
	send(ctx context.Context, v T) error
	invoked() Source[T]
	close()
}

// NewC2CEvent creates (server) or attaches to (client) the event called name.
func NewC2CEvent[T any](ctx context.Context, h *Host, name string, opts ...ChannelOption) (*C2CEvent[T], error) {
	o := newChannelOptions(opts)
	ep, err := h.open(ctx, name, o.kind)
	if err != nil {
		return nil, err
	}

	e := &C2CEvent[T]{channelBase: channelBase{host: h, name: name, kind: o.kind, endpoint: ep}}
	if h.Role() == RoleServer {
		s := &c2cServer[T]{host: h, endpoint: ep}
		s.relay = ep.Subscribe(s.forward)
		e.side = s
	} else {
		e.side = &c2cClient[T]{host: h, endpoint: ep, mux: NewMultiplexer(decodedPayloads[T](h, ep))}
	}
	h.bind(e)
	return e, nil
}

func (e *C2CEvent[T]) Send(ctx context.Context, v T) error {
	return e.side.send(ctx, v)
}

// Invoked publishes events sent by this client and relayed from the others.
func (e *C2CEvent[T]) Invoked() Source[T] {
	return e.side.invoked()
}

func (e *C2CEvent[T]) Close() error {
	return e.closeBase(e.side.close)
}

func (e *C2CEvent[T]) typeName() string { return "C2CEvent" }

type c2cServer[T any] struct {
	host     *Host
	endpoint Endpoint
	relay    *Connection
}

// forward relays d to every connected client except its sender.
func (s *c2cServer[T]) forward(d Delivery) {
	peers := s.host.transport.Peers()
	s.host.log.Debug("relaying event", "channel", s.endpoint.Name(), "from", string(d.From), "peers", len(peers))
	if err := fireAll(context.Background(), s.endpoint, peers, d.From, d.Payload); err != nil {
		s.host.log.Warn("relay incomplete", "channel", s.endpoint.Name(), "error", err)
	}
}

func (s *c2cServer[T]) send(ctx context.Context, v T) error {
	payload, err := encodePayload(s.host.codec, v)
	if err != nil {
		return err
	}
	return fireAll(ctx, s.endpoint, s.host.transport.Peers(), NoPeer, payload)
}

func (s *c2cServer[T]) invoked() Source[T] { return inert[T]() }
func (s *c2cServer[T]) close() { s.relay.Disconnect() }

type c2cClient[T any] struct {
	host     *Host
	endpoint Endpoint
	mux      *Multiplexer[T]
}

func (c *c2cClient[T]) send(ctx context.Context, v T) error {
	c.mux.Fire(v)

	payload, err := encodePayload(c.host.codec, v)
	if err != nil {
		return err
	}
	return c.endpoint.Fire(ctx, NoPeer, payload)
}

func (c *c2cClient[T]) invoked() Source[T] { return c.mux }
func (c *c2cClient[T]) close() { c.mux.Destroy() }
