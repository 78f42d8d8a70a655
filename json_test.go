// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestBridge(t *testing.T, h *Host) *BridgeClient {
	t.Helper()
	handler, err := NewBridge(h)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewBridgeClient(srv.URL, WithHeader("X-Test", "1"))
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestBridgeChannels(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil)
	if _, err := NewC2SEvent[string](ctx, tn.server, "log"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewS2C2SFunction[int, int](ctx, tn.server, "probe"); err != nil {
		t.Fatal(err)
	}

	client := newTestBridge(t, tn.server)
	got, err := client.Channels(ctx)
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	want := []ChannelInfo{
		{Name: "log", Type: "C2SEvent", Kind: "RemoteEvent"},
		{Name: "probe", Type: "S2C2SFunction", Kind: "RemoteEvent"},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestBridgeFire(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil)
	e, err := NewC2SEvent[map[string]int](ctx, tn.server, "metrics")
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan Message[map[string]int], 1)
	e.Invoked().Subscribe(func(m Message[map[string]int]) { got <- m })

	client := newTestBridge(t, tn.server)
	if err := client.Fire(ctx, "metrics", map[string]int{"cpu": 3}); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	select {
	case m := <-got:
		if m.From != NoPeer || m.Payload["cpu"] != 3 {
			t.Fatalf("got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("event not fired")
	}

	if _, err := NewS2CEvent[int](ctx, tn.server, "down"); err != nil {
		t.Fatal(err)
	}
	if err := client.Fire(ctx, "down", 1); CodeOf(err) != CodeWrongRole {
		t.Fatalf("got %v, want WRONG_ROLE", err)
	}
}

func TestBridgeInvoke(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil)
	fn, err := NewC2S2CFunction[string, string](ctx, tn.server, "ping")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn.Subscribe(func(_ context.Context, from PeerID, msg string) (string, error) {
		if from != NoPeer {
			return "", errors.New("unexpected sender")
		}
		return "pong: " + msg, nil
	}); err != nil {
		t.Fatal(err)
	}
	fn.AddMiddleware(RateLimiter(1, time.Hour))

	client := newTestBridge(t, tn.server)
	var reply string
	if err := client.Invoke(ctx, "ping", "hi", &reply); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply != "pong: hi" {
		t.Errorf("got %q", reply)
	}

	err = client.Invoke(ctx, "ping", "again", &reply)
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("got %v, want ErrTooManyRequests", err)
	}
	if err.Error() != "Too many requests" {
		t.Errorf("message = %q", err.Error())
	}

	if err := client.Invoke(ctx, "nope", 1, nil); CodeOf(err) != CodeNotAttached {
		t.Fatalf("unknown channel: got %v", err)
	}
}

func TestBridgeRequiresServer(t *testing.T) {
	tn := newTestNetwork(t, nil, "alice")
	if _, err := NewBridge(tn.clients["alice"]); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("got %v, want ErrWrongRole", err)
	}
}

func TestSendJSONRequestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client, err := NewBridgeClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Channels(context.Background()); err == nil {
		t.Fatal("expected an error for a non-2xx status")
	}
}

func TestIsRetryableError(t *testing.T) {
	if isRetryableError(nil) {
		t.Error("nil is retryable")
	}
	if !isRetryableError(errors.New("read tcp: connection reset by peer")) {
		t.Error("connection reset is not retryable")
	}
	if isRetryableError(errors.New("certificate signed by unknown authority")) {
		t.Error("certificate error is retryable")
	}
}
