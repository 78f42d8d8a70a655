// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const zapWriteTimeout = 30 * time.Second

// zapConn carries length-prefixed frames over a stream connection.
type zapConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	max     uint32
	closed  atomic.Bool
}

func newZAPConn(conn net.Conn, max uint32) *zapConn {
	return &zapConn{conn: conn, reader: bufio.NewReader(conn), max: max}
}

func (z *zapConn) WriteFrame(f *frame) error {
	if z.closed.Load() {
		return ErrClosed
	}
	z.writeMu.Lock()
	defer z.writeMu.Unlock()
	_ = z.conn.SetWriteDeadline(time.Now().Add(zapWriteTimeout))
	if err := writeFrame(z.conn, f, z.max); err != nil {
		return fmt.Errorf("zap write: %w", err)
	}
	return nil
}

func (z *zapConn) ReadFrame() (*frame, error) {
	return readFrame(z.reader, z.max)
}

func (z *zapConn) Close() error {
	if z.closed.Swap(true) {
		return nil
	}
	return z.conn.Close()
}

// ZAPServer is the server transport over framed TCP.
type ZAPServer struct {
	*linkServer
	listener net.Listener
	conns    sync.Map
	closed   atomic.Bool
}

// ListenZAP listens on addr and returns a server ready to Serve.
func ListenZAP(addr string, opts ...TransportOption) (*ZAPServer, error) {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportZAP)}, opts...))
	return listenZAP(addr, o)
}

// NewZAPServer serves on an existing listener.
func NewZAPServer(listener net.Listener, opts ...TransportOption) *ZAPServer {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportZAP)}, opts...))
	return newZAPServer(listener, o)
}

func newZAPServer(listener net.Listener, o *transportOptions) *ZAPServer {
	return &ZAPServer{
		linkServer: newLinkServer(o),
		listener:   listener,
	}
}

func listenZAP(addr string, o *transportOptions) (*ZAPServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap listen: %w", err)
	}
	return newZAPServer(listener, o), nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *ZAPServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info("serving", "addr", s.Addr())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("zap accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *ZAPServer) handleConn(ctx context.Context, conn net.Conn) {
	zc := newZAPConn(conn, s.opts.maxFrameSize)
	s.conns.Store(zc, struct{}{})
	defer s.conns.Delete(zc)

	if err := s.serveConn(ctx, zc); err != nil && !s.closed.Load() && !zc.closed.Load() {
		s.log.Debug("connection ended", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// Addr returns the listener address
func (s *ZAPServer) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the listener and drops every client.
func (s *ZAPServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.shutdown()
	s.conns.Range(func(key, _ interface{}) bool {
		_ = key.(*zapConn).Close()
		return true
	})
	return s.listener.Close()
}

// ZAPClient is the client transport over framed TCP.
type ZAPClient struct {
	*linkClient
}

// DialZAP connects to a ZAP server.
func DialZAP(ctx context.Context, addr string, opts ...TransportOption) (*ZAPClient, error) {
	o := newTransportOptions(append([]TransportOption{WithTransport(TransportZAP)}, opts...))
	return dialZAPClient(ctx, addr, o)
}

func dialZAPClient(ctx context.Context, addr string, o *transportOptions) (*ZAPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}
	return &ZAPClient{linkClient: newLinkClient(newZAPConn(conn, o.maxFrameSize), o)}, nil
}

func dialZAP(ctx context.Context, addr string, o *transportOptions) (Transport, error) {
	return dialZAPClient(ctx, addr, o)
}

func listenZAPTransport(addr string, o *transportOptions) (ServerTransport, error) {
	return listenZAP(addr, o)
}
