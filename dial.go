// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"fmt"
)

// Dial connects a client using the default transport (ZAP).
// Use WithTransport to select another registered transport.
func Dial(ctx context.Context, addr string, opts ...TransportOption) (Transport, error) {
	o := newTransportOptions(opts)
	dial, _, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	return dial(ctx, addr, o)
}

// Listen creates a server transport using the default transport (ZAP).
func Listen(addr string, opts ...TransportOption) (ServerTransport, error) {
	o := newTransportOptions(opts)
	_, listen, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	return listen(addr, o)
}

// DialHost dials and wraps the transport in a client Host.
func DialHost(ctx context.Context, addr string, topts []TransportOption, hopts ...HostOption) (*Host, error) {
	t, err := Dial(ctx, addr, topts...)
	if err != nil {
		return nil, err
	}
	return NewHost(t, hopts...), nil
}
