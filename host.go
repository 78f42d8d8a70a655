// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// hostChannel is what a Host tracks for every live channel.
type hostChannel interface {
	Name() string
	Kind() Kind
	typeName() string
	Close() error
}

// Host owns the channels of one process and the transport they share.
// Channel names are unique per Host.
type Host struct {
	transport Transport
	codec     Codec
	log       *slog.Logger
	tracer    trace.Tracer
	clock     Clock
	tick      time.Duration

	mu       sync.Mutex
	channels map[string]hostChannel
	closed   bool
}

// NewHost wraps t. The Host takes ownership of t and closes it on Close.
func NewHost(t Transport, opts ...HostOption) *Host {
	o := newHostOptions(opts)
	return &Host{
		transport: t,
		codec:     o.codec,
		log:       o.logger.With("component", "remote", "role", t.Role().String()),
		tracer:    o.tracerProvider.Tracer(tracerName),
		clock:     o.clock,
		tick:      o.tick,
		channels:  make(map[string]hostChannel),
	}
}

// Role reports the process's role.
func (h *Host) Role() Role {
	return h.transport.Role()
}

// Transport returns the underlying transport.
func (h *Host) Transport() Transport {
	return h.transport
}

// ChannelInfo describes a live channel.
type ChannelInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Kind string `json:"kind"`
}

// Channels lists live channels sorted by name.
func (h *Host) Channels() []ChannelInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	infos := make([]ChannelInfo, 0, len(h.channels))
	for name, ch := range h.channels {
		if ch == nil {
			continue
		}
		infos = append(infos, ChannelInfo{Name: name, Type: ch.typeName(), Kind: ch.Kind().String()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (h *Host) lookup(name string) (hostChannel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[name]
	return ch, ok && ch != nil
}

// open reserves name and opens its endpoint. The reservation is dropped if
// the transport fails.
func (h *Host) open(ctx context.Context, name string, kind Kind) (Endpoint, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := h.channels[name]; ok {
		h.mu.Unlock()
		return nil, newError(CodeChannelExists, fmt.Sprintf("%s %s already exists.", kind, name), nil)
	}
	h.channels[name] = nil
	h.mu.Unlock()

	ep, err := h.transport.Open(ctx, name, kind)
	if err != nil {
		h.release(name)
		return nil, err
	}
	h.log.Debug("channel opened", "channel", name, "kind", kind.String())
	return ep, nil
}

func (h *Host) bind(ch hostChannel) {
	h.mu.Lock()
	h.channels[ch.Name()] = ch
	h.mu.Unlock()
}

func (h *Host) release(name string) {
	h.mu.Lock()
	delete(h.channels, name)
	h.mu.Unlock()
}

// Close closes every channel and then the transport.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	channels := make([]hostChannel, 0, len(h.channels))
	for _, ch := range h.channels {
		if ch != nil {
			channels = append(channels, ch)
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// channelBase holds what every channel type shares.
type channelBase struct {
	host     *Host
	name     string
	kind     Kind
	endpoint Endpoint
	once     sync.Once
}

func (c *channelBase) Name() string { return c.name }
func (c *channelBase) Kind() Kind { return c.kind }

// closeBase releases the name and closes the endpoint once; teardown runs first.
func (c *channelBase) closeBase(teardown func()) error {
	var err error
	c.once.Do(func() {
		if teardown != nil {
			teardown()
		}
		err = c.endpoint.Close()
		c.host.release(c.name)
		c.host.log.Debug("channel closed", "channel", c.name)
	})
	return err
}

// Message is an event received by the server, tagged with its sender.
// From is NoPeer for events the server sent to itself.
type Message[T any] struct {
	From    PeerID
	Payload T
}

// decodedMessages turns an endpoint into a typed source. Payloads that do not
// decode are logged and dropped.
func decodedMessages[T any](h *Host, ep Endpoint) Source[Message[T]] {
	return SourceFunc[Message[T]](func(fn func(Message[T])) *Connection {
		return ep.Subscribe(func(d Delivery) {
			v, err := decodePayload[T](h.codec, d.Payload)
			if err != nil {
				h.log.Warn("dropping payload", "channel", ep.Name(), "from", string(d.From), "error", err)
				return
			}
			fn(Message[T]{From: d.From, Payload: v})
		})
	})
}

// decodedPayloads is decodedMessages without the sender.
func decodedPayloads[T any](h *Host, ep Endpoint) Source[T] {
	messages := decodedMessages[T](h, ep)
	return SourceFunc[T](func(fn func(T)) *Connection {
		return messages.Subscribe(func(m Message[T]) { fn(m.Payload) })
	})
}

// inert never fires.
func inert[T any]() Source[T] {
	return SourceFunc[T](func(func(T)) *Connection { return &Connection{} })
}
