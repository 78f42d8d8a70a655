// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

const (
	// DefaultTickInterval is how often a waiting call re-checks its middlewares.
	DefaultTickInterval = 16 * time.Millisecond

	// DefaultAttachTimeout bounds how long a server holds a client's attach
	// request for a channel it has not created yet.
	DefaultAttachTimeout = 30 * time.Second

	// DefaultMaxFrameSize caps a single frame on the wire.
	DefaultMaxFrameSize = 64 * 1024 * 1024
)

// TransportOption configures transports
type TransportOption func(*transportOptions)

type transportOptions struct {
	transport     string
	dispatcher    Dispatcher
	logger        *slog.Logger
	maxFrameSize  uint32
	attachTimeout time.Duration
	grpcDial      []grpc.DialOption
	grpcServer    []grpc.ServerOption
}

func newTransportOptions(opts []TransportOption) *transportOptions {
	o := &transportOptions{
		transport:     DefaultTransport,
		dispatcher:    Inline,
		maxFrameSize:  DefaultMaxFrameSize,
		attachTimeout: DefaultAttachTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "remote", "transport", o.transport)
	return o
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) TransportOption {
	return func(o *transportOptions) { o.transport = t }
}

// WithDispatcher routes inbound events and invocations through d.
func WithDispatcher(d Dispatcher) TransportOption {
	return func(o *transportOptions) { o.dispatcher = d }
}

// WithTransportLogger sets the transport's logger
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(o *transportOptions) { o.logger = l }
}

// WithMaxFrameSize caps the size of a single frame
func WithMaxFrameSize(n uint32) TransportOption {
	return func(o *transportOptions) { o.maxFrameSize = n }
}

// WithAttachTimeout bounds server-side attach waits
func WithAttachTimeout(d time.Duration) TransportOption {
	return func(o *transportOptions) { o.attachTimeout = d }
}

// WithGRPCDialOptions appends dial options for the grpc transport
func WithGRPCDialOptions(opts ...grpc.DialOption) TransportOption {
	return func(o *transportOptions) { o.grpcDial = append(o.grpcDial, opts...) }
}

// WithGRPCServerOptions appends server options for the grpc transport
func WithGRPCServerOptions(opts ...grpc.ServerOption) TransportOption {
	return func(o *transportOptions) { o.grpcServer = append(o.grpcServer, opts...) }
}

// HostOption configures a Host
type HostOption func(*hostOptions)

type hostOptions struct {
	codec          Codec
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	clock          Clock
	tick           time.Duration
}

// WithCodec sets the payload codec
func WithCodec(c Codec) HostOption {
	return func(o *hostOptions) { o.codec = c }
}

// WithLogger sets the host's logger
func WithLogger(l *slog.Logger) HostOption {
	return func(o *hostOptions) { o.logger = l }
}

// WithTracerProvider sets where call spans are recorded
func WithTracerProvider(tp trace.TracerProvider) HostOption {
	return func(o *hostOptions) { o.tracerProvider = tp }
}

// WithClock sets the clock seen by middlewares
func WithClock(c Clock) HostOption {
	return func(o *hostOptions) { o.clock = c }
}

// WithTickInterval sets how often waiting calls poll their middlewares
func WithTickInterval(d time.Duration) HostOption {
	return func(o *hostOptions) { o.tick = d }
}

func newHostOptions(opts []HostOption) *hostOptions {
	o := &hostOptions{
		codec: defaultCodec,
		clock: SystemClock,
		tick:  DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.tick <= 0 {
		o.tick = DefaultTickInterval
	}
	return o
}

// ChannelOption configures a single channel
type ChannelOption func(*channelOptions)

type channelOptions struct {
	kind Kind
}

// WithKind sets the channel's delivery kind
func WithKind(k Kind) ChannelOption {
	return func(o *channelOptions) { o.kind = k }
}

func newChannelOptions(opts []ChannelOption) *channelOptions {
	o := &channelOptions{kind: Reliable}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
