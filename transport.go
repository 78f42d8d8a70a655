// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"sort"
	"sync"
)

// Transport types
const (
	TransportZAP  = "zap"  // Framed TCP, default
	TransportGRPC = "grpc" // One gRPC bidi stream per client
)

// DefaultTransport is the default transport type (ZAP)
const DefaultTransport = TransportZAP

// Role is the side of the connection a process plays.
type Role uint8

const (
	RoleServer Role = iota + 1
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Kind selects the delivery guarantee of a channel.
type Kind uint8

const (
	Reliable Kind = iota
	Unreliable
)

func (k Kind) String() string {
	if k == Unreliable {
		return "UnreliableRemoteEvent"
	}
	return "RemoteEvent"
}

// PeerID identifies a connected client. The zero value stands for the
// server itself, or for a call that originated locally.
type PeerID string

// NoPeer is the sender of self-calls and the target of client sends.
const NoPeer PeerID = ""

// Delivery is one inbound event on an Endpoint.
type Delivery struct {
	From    PeerID
	Payload []byte
}

// InvokeHandler answers remote invocations on an Endpoint.
type InvokeHandler func(ctx context.Context, from PeerID, payload []byte) ([]byte, error)

// Transport is one process's view of the connection. Servers create named
// endpoints; clients attach to endpoints the server has created.
type Transport interface {
	// Role reports whether this process is the server or a client
	Role() Role

	// Open creates (server) or attaches to (client) the endpoint called name.
	// A server fails with ErrChannelExists if the name is taken; a client
	// waits until the server has created it or ctx is done.
	Open(ctx context.Context, name string, kind Kind) (Endpoint, error)

	// Peers lists the connected clients in connection order (server only)
	Peers() []PeerID

	// Close tears down every endpoint and connection
	Close() error
}

// ServerTransport is a Transport that accepts connections.
type ServerTransport interface {
	Transport

	// Serve accepts connections until ctx is cancelled or Close is called
	Serve(ctx context.Context) error

	// Addr returns the server's listen address
	Addr() string
}

// Endpoint is a named, bidirectional channel on a Transport.
type Endpoint interface {
	// Subscribe receives events fired by the other side
	Subscribe(fn func(Delivery)) *Connection

	Name() string
	Kind() Kind

	// Fire sends a one-way event. Clients ignore to.
	Fire(ctx context.Context, to PeerID, payload []byte) error

	// Invoke calls the other side's InvokeHandler and waits for its answer
	Invoke(ctx context.Context, to PeerID, payload []byte) ([]byte, error)

	// Answer installs the handler for invocations from the other side
	Answer(h InvokeHandler)

	Close() error
}

type dialFunc func(ctx context.Context, addr string, o *transportOptions) (Transport, error)
type listenFunc func(addr string, o *transportOptions) (ServerTransport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]struct {
		dial   dialFunc
		listen listenFunc
	}{
		TransportZAP: {dialZAP, listenZAPTransport},
	}
)

// registerTransport registers a new transport
func registerTransport(name string, dial dialFunc, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = struct {
		dial   dialFunc
		listen listenFunc
	}{dial, listen}
}

func lookupTransport(name string) (dialFunc, listenFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	return t.dial, t.listen, ok
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}
