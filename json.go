// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gorillarpc "github.com/gorilla/rpc/v2"
	rpc "github.com/gorilla/rpc/v2/json2"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

// BridgeServiceName is the JSON-RPC service name of the bridge.
const BridgeServiceName = "Remote"

// RequestOption configures a single JSON-RPC request
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers     http.Header
	queryParams url.Values
	logger      *slog.Logger
}

func newRequestOptions(opts []RequestOption) *requestOptions {
	o := &requestOptions{
		headers:     make(http.Header),
		queryParams: make(url.Values),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithHeader adds a request header
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.headers.Add(key, value) }
}

// WithQueryParam adds a URL query parameter
func WithQueryParam(key, value string) RequestOption {
	return func(o *requestOptions) { o.queryParams.Add(key, value) }
}

// WithRequestLogger sets where retries are logged
func WithRequestLogger(l *slog.Logger) RequestOption {
	return func(o *requestOptions) { o.logger = l }
}

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
// This avoids EOF errors that can occur with connection pooling in complex
// process hierarchies.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// SendJSONRequest issues a JSON-RPC 2.0 call, retrying transient connection
// failures with exponential backoff.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	options ...RequestOption,
) error {
	requestBodyBytes, err := rpc.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	ops := newRequestOptions(options)
	target := *uri
	target.RawQuery = ops.queryParams.Encode()
	log := ops.logger.With("method", method, "uri", target.String())

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// The body buffer is consumed by each attempt
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			target.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		request.Header = ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retryable := isRetryableError(err)
			log.Warn("request attempt failed", "attempt", attempt+1, "error", err, "retryable", retryable)
			if retryable {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			log.Info("request succeeded after retry", "attempt", attempt+1)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = CleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		err = rpc.DecodeClientResponse(resp.Body, reply)
		_ = CleanlyCloseBody(resp.Body)
		if err != nil {
			return bridgeError(err)
		}
		return nil
	}

	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}

// bridgeError turns a JSON-RPC error carrying a remote code back into *Error.
func bridgeError(err error) error {
	var je *rpc.Error
	if errors.As(err, &je) {
		if code, ok := je.Data.(string); ok && code != "" {
			return &Error{Code: Code(code), Message: je.Message}
		}
		return fmt.Errorf("json-rpc error %d: %s", je.Code, je.Message)
	}
	return fmt.Errorf("failed to decode client response: %w", err)
}

// NewBridge exposes h over JSON-RPC 2.0 so operator tooling can list channels,
// fire C2S events and call C2S2C functions as the server itself.
func NewBridge(h *Host) (http.Handler, error) {
	if h.Role() != RoleServer {
		return nil, ErrWrongRole
	}
	server := gorillarpc.NewServer()
	server.RegisterCodec(rpc.NewCodec(), "application/json")
	if err := server.RegisterService(&BridgeService{host: h}, BridgeServiceName); err != nil {
		return nil, fmt.Errorf("register bridge: %w", err)
	}
	return server, nil
}

// BridgeService is the receiver registered by NewBridge.
type BridgeService struct {
	host *Host
}

type ChannelsArgs struct{}

type ChannelsReply struct {
	Channels []ChannelInfo `json:"channels"`
}

type FireArgs struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type FireReply struct{}

type InvokeArgs struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type InvokeReply struct {
	Payload json.RawMessage `json:"payload"`
}

type localFirer interface {
	fireLocal(payload []byte) error
}

type localInvoker interface {
	invokeLocal(ctx context.Context, payload []byte) ([]byte, error)
}

// Channels lists the host's live channels.
func (b *BridgeService) Channels(_ *http.Request, _ *ChannelsArgs, reply *ChannelsReply) error {
	reply.Channels = b.host.Channels()
	return nil
}

// Fire publishes a C2S event as if the server had sent it.
func (b *BridgeService) Fire(_ *http.Request, args *FireArgs, _ *FireReply) error {
	ch, ok := b.host.lookup(args.Channel)
	if !ok {
		return rpcError(newError(CodeNotAttached, fmt.Sprintf("channel %s not found", args.Channel), nil))
	}
	f, ok := ch.(localFirer)
	if !ok {
		return rpcError(newError(CodeWrongRole, fmt.Sprintf("%s %s cannot be fired from the bridge", ch.typeName(), args.Channel), nil))
	}
	b.host.log.Debug("bridge fire", "channel", args.Channel)
	return rpcError(f.fireLocal(args.Payload))
}

// Invoke calls a C2S2C function as the server, through its middlewares.
func (b *BridgeService) Invoke(r *http.Request, args *InvokeArgs, reply *InvokeReply) error {
	ch, ok := b.host.lookup(args.Channel)
	if !ok {
		return rpcError(newError(CodeNotAttached, fmt.Sprintf("channel %s not found", args.Channel), nil))
	}
	inv, ok := ch.(localInvoker)
	if !ok {
		return rpcError(newError(CodeWrongRole, fmt.Sprintf("%s %s cannot be invoked from the bridge", ch.typeName(), args.Channel), nil))
	}
	b.host.log.Debug("bridge invoke", "channel", args.Channel)
	data, err := inv.invokeLocal(r.Context(), args.Payload)
	if err != nil {
		return rpcError(err)
	}
	reply.Payload = data
	return nil
}

func rpcError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &rpc.Error{Code: rpc.E_SERVER, Message: e.Message, Data: string(e.Code)}
	}
	return &rpc.Error{Code: rpc.E_SERVER, Message: err.Error(), Data: string(CodeRemote)}
}

// BridgeClient calls a bridge served by NewBridge.
type BridgeClient struct {
	uri     *url.URL
	options []RequestOption
}

// NewBridgeClient targets the bridge at rawURL.
func NewBridgeClient(rawURL string, options ...RequestOption) (*BridgeClient, error) {
	uri, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	return &BridgeClient{uri: uri, options: options}, nil
}

func (c *BridgeClient) Channels(ctx context.Context) ([]ChannelInfo, error) {
	var reply ChannelsReply
	if err := SendJSONRequest(ctx, c.uri, BridgeServiceName+".Channels", &ChannelsArgs{}, &reply, c.options...); err != nil {
		return nil, err
	}
	return reply.Channels, nil
}

// Fire publishes v on the C2S event called channel.
func (c *BridgeClient) Fire(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return SendJSONRequest(ctx, c.uri, BridgeServiceName+".Fire", &FireArgs{Channel: channel, Payload: payload}, &FireReply{}, c.options...)
}

// Invoke calls the C2S2C function called channel and decodes its answer into reply.
func (c *BridgeClient) Invoke(ctx context.Context, channel string, arg interface{}, reply interface{}) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var resp InvokeReply
	if err := SendJSONRequest(ctx, c.uri, BridgeServiceName+".Invoke", &InvokeArgs{Channel: channel, Payload: payload}, &resp, c.options...); err != nil {
		return err
	}
	if reply == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, reply); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
