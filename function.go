// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"fmt"
	"sync"
)

// handlerSlot holds at most one handler.
type handlerSlot[F any] struct {
	mu  sync.Mutex
	fn  F
	set bool
	gen uint64
}

// attach installs fn unless a handler is already live. The returned
// Connection only clears fn, never a handler attached after it.
func (s *handlerSlot[F]) attach(fn F) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return nil, ErrAlreadySubscribed
	}

	s.fn = fn
	s.set = true
	s.gen++
	gen := s.gen
	return newConnection(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.set && s.gen == gen {
			var zero F
			s.fn = zero
			s.set = false
		}
	}), nil
}

func (s *handlerSlot[F]) get() (F, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn, s.set
}

// functionBase is what both function directions share: the middleware list
// and the call/answer plumbing around the Waiter.
type functionBase struct {
	channelBase

	mu          sync.Mutex
	middlewares []Middleware
}

func (f *functionBase) addMiddleware(mw Middleware) {
	f.mu.Lock()
	f.middlewares = append(f.middlewares, mw)
	f.mu.Unlock()
}

func (f *functionBase) middlewareList() []Middleware {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Middleware(nil), f.middlewares...)
}

// call runs payload through the middlewares and invoke, and unwraps the
// reply envelope.
func (f *functionBase) call(ctx context.Context, to PeerID, payload []byte, invoke func(ctx context.Context, payload []byte) ([]byte, error)) (data []byte, err error) {
	h := f.host
	ctx, span := h.startCall(ctx, f.name, to)
	defer func() { endCall(span, err) }()

	w, err := startWaiter(f.middlewareList(), h.clock, h.tick)
	if err != nil {
		return nil, err
	}

	raw, err := w.wait(ctx, func(ctx context.Context) ([]byte, error) {
		return invoke(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	return decodeReply(h.codec, raw)
}

func (f *functionBase) notSubscribed() error {
	return newError(CodeNotSubscribed, fmt.Sprintf("Event %s was not subscribed to", f.name), nil)
}

// answerWith wraps a local answer into the reply envelope sent over the wire.
func (f *functionBase) answerWith(answer func(ctx context.Context, from PeerID, payload []byte) ([]byte, error)) InvokeHandler {
	return func(ctx context.Context, from PeerID, payload []byte) ([]byte, error) {
		data, err := answer(ctx, from, payload)
		if err != nil {
			f.host.log.Debug("call rejected", "channel", f.name, "from", string(from), "error", err)
		}
		return encodeReply(f.host.codec, data, err)
	}
}

func sendTyped[TResp any](ctx context.Context, f *functionBase, to PeerID, arg interface{}, invoke func(ctx context.Context, payload []byte) ([]byte, error)) (TResp, error) {
	var zero TResp
	payload, err := encodePayload(f.host.codec, arg)
	if err != nil {
		return zero, err
	}
	data, err := f.call(ctx, to, payload, invoke)
	if err != nil {
		return zero, err
	}
	return decodePayload[TResp](f.host.codec, data)
}

// S2C2SHandler answers an S2C2S call on a client.
type S2C2SHandler[TArg, TResp any] func(ctx context.Context, arg TArg) (TResp, error)

// S2C2SFunction lets the server call a client and wait for its answer.
type S2C2SFunction[TArg, TResp any] struct {
	functionBase
	side s2c2sSide[TArg, TResp]
}

type s2c2sSide[TArg, TResp any] interface {
	send(ctx context.Context, to PeerID, arg TArg) (TResp, error)
	subscribe(fn S2C2SHandler[TArg, TResp]) (*Connection, error)
}

// NewS2C2SFunction creates (server) or attaches to (client) the function called name.
func NewS2C2SFunction[TArg, TResp any](ctx context.Context, h *Host, name string) (*S2C2SFunction[TArg, TResp], error) {
	ep, err := h.open(ctx, name, Reliable)
	if err != nil {
		return nil, err
	}

	fn := &S2C2SFunction[TArg, TResp]{}
	fn.channelBase = channelBase{host: h, name: name, kind: Reliable, endpoint: ep}
	if h.Role() == RoleServer {
		fn.side = &s2c2sServer[TArg, TResp]{base: &fn.functionBase}
	} else {
		c := &s2c2sClient[TArg, TResp]{base: &fn.functionBase}
		ep.Answer(fn.answerWith(c.answer))
		fn.side = c
	}
	h.bind(fn)
	return fn, nil
}

// AddMiddleware attaches mw to every later Send.
func (f *S2C2SFunction[TArg, TResp]) AddMiddleware(mw Middleware) *S2C2SFunction[TArg, TResp] {
	f.addMiddleware(mw)
	return f
}

// Send calls the client to and waits for its answer.
func (f *S2C2SFunction[TArg, TResp]) Send(ctx context.Context, to PeerID, arg TArg) (TResp, error) {
	return f.side.send(ctx, to, arg)
}

// Subscribe installs the client's handler. Only one handler may be live.
func (f *S2C2SFunction[TArg, TResp]) Subscribe(fn S2C2SHandler[TArg, TResp]) (*Connection, error) {
	return f.side.subscribe(fn)
}

func (f *S2C2SFunction[TArg, TResp]) Close() error {
	return f.closeBase(nil)
}

func (f *S2C2SFunction[TArg, TResp]) typeName() string { return "S2C2SFunction" }

type s2c2sServer[TArg, TResp any] struct {
	base *functionBase
}

func (s *s2c2sServer[TArg, TResp]) send(ctx context.Context, to PeerID, arg TArg) (TResp, error) {
	return sendTyped[TResp](ctx, s.base, to, arg, func(ctx context.Context, payload []byte) ([]byte, error) {
		return s.base.endpoint.Invoke(ctx, to, payload)
	})
}

func (s *s2c2sServer[TArg, TResp]) subscribe(S2C2SHandler[TArg, TResp]) (*Connection, error) {
	return nil, ErrWrongRole
}

type s2c2sClient[TArg, TResp any] struct {
	base    *functionBase
	handler handlerSlot[S2C2SHandler[TArg, TResp]]
}

func (c *s2c2sClient[TArg, TResp]) send(context.Context, PeerID, TArg) (TResp, error) {
	var zero TResp
	return zero, ErrWrongRole
}

func (c *s2c2sClient[TArg, TResp]) subscribe(fn S2C2SHandler[TArg, TResp]) (*Connection, error) {
	return c.handler.attach(fn)
}

func (c *s2c2sClient[TArg, TResp]) answer(ctx context.Context, _ PeerID, payload []byte) ([]byte, error) {
	fn, ok := c.handler.get()
	if !ok {
		return nil, c.base.notSubscribed()
	}
	arg, err := decodePayload[TArg](c.base.host.codec, payload)
	if err != nil {
		return nil, err
	}
	resp, err := fn(ctx, arg)
	if err != nil {
		return nil, err
	}
	return encodePayload(c.base.host.codec, resp)
}

// C2S2CHandler answers a C2S2C call on the server.
type C2S2CHandler[TArg, TResp any] func(ctx context.Context, from PeerID, arg TArg) (TResp, error)

// C2S2CFunction lets a client call the server and wait for its answer.
//
// Every client Send is published on Sent before the call starts, whatever
// its outcome. A Send on the server calls its own handler with from set to
// NoPeer, through the same middlewares.
type C2S2CFunction[TArg, TResp any] struct {
	functionBase
	sent Signal[TArg]
	side c2s2cSide[TArg, TResp]
}

type c2s2cSide[TArg, TResp any] interface {
	send(ctx context.Context, arg TArg) (TResp, error)
	subscribe(fn C2S2CHandler[TArg, TResp]) (*Connection, error)
	invokeLocal(ctx context.Context, payload []byte) ([]byte, error)
}

// NewC2S2CFunction creates (server) or attaches to (client) the function called name.
func NewC2S2CFunction[TArg, TResp any](ctx context.Context, h *Host, name string) (*C2S2CFunction[TArg, TResp], error) {
	ep, err := h.open(ctx, name, Reliable)
	if err != nil {
		return nil, err
	}

	fn := &C2S2CFunction[TArg, TResp]{}
	fn.channelBase = channelBase{host: h, name: name, kind: Reliable, endpoint: ep}
	if h.Role() == RoleServer {
		s := &c2s2cServer[TArg, TResp]{base: &fn.functionBase}
		ep.Answer(fn.answerWith(s.answer))
		fn.side = s
	} else {
		fn.side = &c2s2cClient[TArg, TResp]{base: &fn.functionBase, sent: &fn.sent}
	}
	h.bind(fn)
	return fn, nil
}

// AddMiddleware attaches mw to every later Send.
func (f *C2S2CFunction[TArg, TResp]) AddMiddleware(mw Middleware) *C2S2CFunction[TArg, TResp] {
	f.addMiddleware(mw)
	return f
}

// Send calls the server and waits for its answer.
func (f *C2S2CFunction[TArg, TResp]) Send(ctx context.Context, arg TArg) (TResp, error) {
	return f.side.send(ctx, arg)
}

// Subscribe installs the server's handler. Only one handler may be live.
func (f *C2S2CFunction[TArg, TResp]) Subscribe(fn C2S2CHandler[TArg, TResp]) (*Connection, error) {
	return f.side.subscribe(fn)
}

// Sent publishes the argument of every client Send.
func (f *C2S2CFunction[TArg, TResp]) Sent() Source[TArg] {
	return f.sent.Readonly()
}

func (f *C2S2CFunction[TArg, TResp]) Close() error {
	return f.closeBase(f.sent.Destroy)
}

func (f *C2S2CFunction[TArg, TResp]) typeName() string { return "C2S2CFunction" }

func (f *C2S2CFunction[TArg, TResp]) invokeLocal(ctx context.Context, payload []byte) ([]byte, error) {
	return f.side.invokeLocal(ctx, payload)
}

type c2s2cServer[TArg, TResp any] struct {
	base    *functionBase
	handler handlerSlot[C2S2CHandler[TArg, TResp]]
}

func (s *c2s2cServer[TArg, TResp]) send(ctx context.Context, arg TArg) (TResp, error) {
	return sendTyped[TResp](ctx, s.base, NoPeer, arg, s.self)
}

// invokeLocal runs an encoded argument through the middlewares and the
// server's own handler, returning the encoded response.
func (s *c2s2cServer[TArg, TResp]) invokeLocal(ctx context.Context, payload []byte) ([]byte, error) {
	return s.base.call(ctx, NoPeer, payload, s.self)
}

func (s *c2s2cServer[TArg, TResp]) self(ctx context.Context, payload []byte) ([]byte, error) {
	data, err := s.answer(ctx, NoPeer, payload)
	return encodeReply(s.base.host.codec, data, err)
}

func (s *c2s2cServer[TArg, TResp]) subscribe(fn C2S2CHandler[TArg, TResp]) (*Connection, error) {
	return s.handler.attach(fn)
}

func (s *c2s2cServer[TArg, TResp]) answer(ctx context.Context, from PeerID, payload []byte) ([]byte, error) {
	fn, ok := s.handler.get()
	if !ok {
		return nil, s.base.notSubscribed()
	}
	arg, err := decodePayload[TArg](s.base.host.codec, payload)
	if err != nil {
		return nil, err
	}
	resp, err := fn(ctx, from, arg)
	if err != nil {
		return nil, err
	}
	return encodePayload(s.base.host.codec, resp)
}

type c2s2cClient[TArg, TResp any] struct {
	base *functionBase
	sent *Signal[TArg]
}

func (c *c2s2cClient[TArg, TResp]) send(ctx context.Context, arg TArg) (TResp, error) {
	c.sent.Fire(arg)
	return sendTyped[TResp](ctx, c.base, NoPeer, arg, func(ctx context.Context, payload []byte) ([]byte, error) {
		return c.base.endpoint.Invoke(ctx, NoPeer, payload)
	})
}

func (c *c2s2cClient[TArg, TResp]) subscribe(C2S2CHandler[TArg, TResp]) (*Connection, error) {
	return nil, ErrWrongRole
}

func (c *c2s2cClient[TArg, TResp]) invokeLocal(context.Context, []byte) ([]byte, error) {
	return nil, ErrWrongRole
}
