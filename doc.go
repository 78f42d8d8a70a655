// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package remote provides typed, named channels between one server and many
// clients: one-way events in every direction and request/response functions
// with pluggable middlewares.
//
// # Channels
//
// A Host owns the channels of one process. The server creates a channel by
// name; a client attaches to the same name and waits until the server has
// created it.
//
//	C2SEvent            client -> server, server sees the sender
//	S2CEvent            server -> one, some or all clients
//	BidirectionalEvent  an S2CEvent and a C2SEvent under one name
//	C2CEvent            client -> server -> every other client
//	S2C2SFunction       server calls a client and waits for the answer
//	C2S2CFunction       client calls the server and waits for the answer
//
// # Usage
//
// Server:
//
//	srv, err := remote.Listen(":9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	host := remote.NewHost(srv)
//	defer host.Close()
//
//	ping, _ := remote.NewC2S2CFunction[string, string](ctx, host, "ping")
//	ping.AddMiddleware(remote.RateLimiter(10, time.Second))
//	ping.Subscribe(func(ctx context.Context, from remote.PeerID, msg string) (string, error) {
//	    return "pong: " + msg, nil
//	})
//
//	go srv.Serve(ctx)
//
// Client:
//
//	host, err := remote.DialHost(ctx, "localhost:9000", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close()
//
//	ping, _ := remote.NewC2S2CFunction[string, string](ctx, host, "ping")
//	ping.AddMiddleware(remote.Timeout(5 * time.Second))
//	resp, err := ping.Send(ctx, "hello")
//
// # Transports
//
// ZAP (framed TCP) is the default. The grpc transport carries the same frames
// over one bidirectional gRPC stream per client. Network connects a server
// and clients in memory, for tests and single-process setups.
//
// # Architecture
//
//   - signal.go: Signal, Multiplexer and ThinMultiplexer
//   - middleware.go, waiter.go: call admission, timeouts and rate limits
//   - event.go, function.go: the channel types
//   - host.go: per-process channel registry
//   - transport.go, dial.go: Transport interfaces and registry
//   - link.go, frame.go: the frame protocol shared by zap.go and grpc.go
//   - memory.go: in-process transport
//   - json.go: JSON-RPC bridge over HTTP
//   - config.go: environment configuration
package remote
