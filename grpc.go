// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

func init() {
	registerTransport(TransportGRPC, dialGRPC, listenGRPCTransport)
}

const linkConnectMethod = "/remote.Link/Connect"

// frameCodec puts frames on a gRPC stream as raw bytes.
type frameCodec struct{}

func (frameCodec) Name() string { return "remote-frame" }

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("frame codec: unexpected %T", v)
	}
	return f.marshal()
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("frame codec: unexpected %T", v)
	}
	return f.unmarshal(append([]byte(nil), data...))
}

type linkStreamServer interface {
	Connect(stream grpc.ServerStream) error
}

var linkServiceDesc = grpc.ServiceDesc{
	ServiceName: "remote.Link",
	HandlerType: (*linkStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Connect",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(linkStreamServer).Connect(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "remote/link",
}

type grpcStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// grpcConn carries frames over one bidi stream.
type grpcConn struct {
	stream  grpcStream
	writeMu sync.Mutex
	max     uint32
	closeFn func()
	closed  atomic.Bool
}

func (g *grpcConn) WriteFrame(f *frame) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if n := f.size(); uint64(n) > uint64(g.max) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, g.max)
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if err := g.stream.SendMsg(f); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	return nil
}

func (g *grpcConn) ReadFrame() (*frame, error) {
	f := &frame{}
	if err := g.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (g *grpcConn) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.closeFn()
	return nil
}

// GRPCServer is the server transport over gRPC. Each client holds one
// bidirectional stream.
type GRPCServer struct {
	*linkServer
	listener net.Listener
	server   *grpc.Server
	closed   atomic.Bool
}

// ListenGRPC listens on addr and returns a server ready to Serve.
func ListenGRPC(addr string, opts ...TransportOption) (*GRPCServer, error) {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportGRPC)}, opts...))
	return listenGRPC(addr, o)
}

// NewGRPCServer serves on an existing listener.
func NewGRPCServer(listener net.Listener, opts ...TransportOption) *GRPCServer {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportGRPC)}, opts...))
	return newGRPCServer(listener, o)
}

func newGRPCServer(listener net.Listener, o *transportOptions) *GRPCServer {
	serverOpts := append([]grpc.ServerOption{
		grpc.ForceServerCodec(frameCodec{}),
		grpc.MaxRecvMsgSize(int(o.maxFrameSize)),
		grpc.MaxSendMsgSize(int(o.maxFrameSize)),
	}, o.grpcServer...)

	s := &GRPCServer{
		linkServer: newLinkServer(o),
		listener:   listener,
		server:     grpc.NewServer(serverOpts...),
	}
	s.server.RegisterService(&linkServiceDesc, s)
	return s
}

func listenGRPC(addr string, o *transportOptions) (*GRPCServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	return newGRPCServer(listener, o), nil
}

func listenGRPCTransport(addr string, o *transportOptions) (ServerTransport, error) {
	return listenGRPC(addr, o)
}

// Connect serves one client stream.
func (s *GRPCServer) Connect(stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	conn := &grpcConn{stream: stream, max: s.opts.maxFrameSize, closeFn: cancel}
	errc := make(chan error, 1)
	go func() { errc <- s.serveConn(ctx, conn) }()

	select {
	case err := <-errc:
		return streamError(err)
	case <-ctx.Done():
		return nil
	}
}

func streamError(err error) error {
	if err == nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status().Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *GRPCServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info("serving", "addr", s.Addr())
	if err := s.server.Serve(s.listener); err != nil && !s.closed.Load() {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Addr returns the listener address
func (s *GRPCServer) Addr() string {
	return s.listener.Addr().String()
}

// Close drops every client and stops the gRPC server.
func (s *GRPCServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.shutdown()
	s.server.Stop()
	return nil
}

// GRPCClient is the client transport over gRPC.
type GRPCClient struct {
	*linkClient
}

// DialGRPC connects to a gRPC server. The connection is insecure unless
// credentials are supplied through WithGRPCDialOptions.
func DialGRPC(ctx context.Context, addr string, opts ...TransportOption) (*GRPCClient, error) {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportGRPC)}, opts...))
	return dialGRPCClient(ctx, addr, o)
}

func dialGRPC(ctx context.Context, addr string, o *transportOptions) (Transport, error) {
	return dialGRPCClient(ctx, addr, o)
}

func dialGRPCClient(ctx context.Context, addr string, o *transportOptions) (*GRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, o.grpcDial...)
	cc, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	if err := waitReady(ctx, cc); err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(streamCtx, &linkServiceDesc.Streams[0], linkConnectMethod,
		grpc.ForceCodec(frameCodec{}),
		grpc.MaxCallRecvMsgSize(int(o.maxFrameSize)),
		grpc.MaxCallSendMsgSize(int(o.maxFrameSize)),
	)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("grpc stream: %w", err)
	}

	conn := &grpcConn{
		stream: stream,
		max:    o.maxFrameSize,
		closeFn: func() {
			_ = stream.CloseSend()
			cancel()
			_ = cc.Close()
		},
	}
	return &GRPCClient{linkClient: newLinkClient(conn, o)}, nil
}

func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return ErrClosed
		}
		if !cc.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}
