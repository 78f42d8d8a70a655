// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/luxfi/remote"

// Span attribute keys
const (
	AttrChannel = attribute.Key("remote.channel")
	AttrRole    = attribute.Key("remote.role")
	AttrPeer    = attribute.Key("remote.peer")
	AttrOutcome = attribute.Key("remote.outcome")
)

func (h *Host) startCall(ctx context.Context, channel string, to PeerID) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, "remote.call "+channel,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrChannel.String(channel),
			AttrRole.String(h.Role().String()),
			AttrPeer.String(string(to)),
		),
	)
}

func endCall(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetAttributes(AttrOutcome.String("ok"))
		return
	}
	span.SetAttributes(AttrOutcome.String(string(CodeOf(err))))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
