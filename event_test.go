// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestC2SEventSender(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice")

	srv, err := NewC2SEvent[string](ctx, tn.server, "chat")
	if err != nil {
		t.Fatal(err)
	}
	cli, err := NewC2SEvent[string](ctx, tn.clients["alice"], "chat")
	if err != nil {
		t.Fatal(err)
	}

	var got []Message[string]
	srv.Invoked().Subscribe(func(m Message[string]) { got = append(got, m) })

	if err := cli.Send(ctx, "hi"); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	if err := srv.Send(ctx, "local"); err != nil {
		t.Fatalf("server Send: %v", err)
	}

	want := []Message[string]{
		{From: "alice", Payload: "hi"},
		{From: NoPeer, Payload: "local"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	fired := false
	cli.Invoked().Subscribe(func(Message[string]) { fired = true })
	_ = cli.Send(ctx, "again")
	if fired {
		t.Fatal("client Invoked fired")
	}
}

func TestS2CEventTargets(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice", "bob")

	srv, err := NewS2CEvent[int](ctx, tn.server, "score")
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[PeerID][]int)
	for id, h := range tn.clients {
		id := id
		cli, err := NewS2CEvent[int](ctx, h, "score")
		if err != nil {
			t.Fatal(err)
		}
		cli.Invoked().Subscribe(func(v int) { got[id] = append(got[id], v) })
	}

	if err := srv.Send(ctx, ToPeer("alice"), 1); err != nil {
		t.Fatal(err)
	}
	if err := srv.Send(ctx, ToPeers("bob"), 2); err != nil {
		t.Fatal(err)
	}
	if err := srv.Send(ctx, ToEveryone(), 3); err != nil {
		t.Fatal(err)
	}
	if err := srv.Send(ctx, Target{}, 4); err != nil {
		t.Fatal(err)
	}

	if want := []int{1, 3}; !reflect.DeepEqual(got["alice"], want) {
		t.Errorf("alice got %v, want %v", got["alice"], want)
	}
	if want := []int{2, 3}; !reflect.DeepEqual(got["bob"], want) {
		t.Errorf("bob got %v, want %v", got["bob"], want)
	}
}

func TestS2CEventPartialFailure(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice")

	srv, err := NewS2CEvent[int](ctx, tn.server, "score")
	if err != nil {
		t.Fatal(err)
	}
	cli, err := NewS2CEvent[int](ctx, tn.clients["alice"], "score")
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	cli.Invoked().Subscribe(func(v int) { got = append(got, v) })

	err = srv.Send(ctx, ToPeers("ghost", "alice"), 5)
	if !errors.Is(err, ErrNotAttached) {
		t.Fatalf("got %v, want ErrNotAttached", err)
	}
	if want := []int{5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("alice got %v, want %v", got, want)
	}
}

func TestEventWrongRole(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice")

	if _, err := NewS2CEvent[int](ctx, tn.server, "score"); err != nil {
		t.Fatal(err)
	}
	cli, err := NewS2CEvent[int](ctx, tn.clients["alice"], "score")
	if err != nil {
		t.Fatal(err)
	}
	if err := cli.Send(ctx, ToEveryone(), 1); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("got %v, want ErrWrongRole", err)
	}
}

func TestBidirectionalEvent(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice")

	srv, err := NewBidirectionalEvent[string](ctx, tn.server, "sync")
	if err != nil {
		t.Fatal(err)
	}
	cli, err := NewBidirectionalEvent[string](ctx, tn.clients["alice"], "sync")
	if err != nil {
		t.Fatal(err)
	}
	if srv.S2C.Name() != "sync_s2c" || srv.C2S.Name() != "sync_c2s" {
		t.Fatalf("names = %s, %s", srv.S2C.Name(), srv.C2S.Name())
	}

	var up []Message[string]
	var down []string
	srv.C2S.Invoked().Subscribe(func(m Message[string]) { up = append(up, m) })
	cli.S2C.Invoked().Subscribe(func(v string) { down = append(down, v) })

	if err := cli.C2S.Send(ctx, "up"); err != nil {
		t.Fatal(err)
	}
	if err := srv.S2C.Send(ctx, ToEveryone(), "down"); err != nil {
		t.Fatal(err)
	}
	if len(up) != 1 || up[0].From != "alice" || up[0].Payload != "up" {
		t.Errorf("server got %+v", up)
	}
	if !reflect.DeepEqual(down, []string{"down"}) {
		t.Errorf("client got %v", down)
	}

	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
	if len(tn.server.Channels()) != 0 {
		t.Fatalf("channels left after Close: %+v", tn.server.Channels())
	}
}

func TestC2CEventRelayExcludesSender(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice", "bob", "carol")

	srv, err := NewC2CEvent[string](ctx, tn.server, "room")
	if err != nil {
		t.Fatal(err)
	}
	serverFired := false
	srv.Invoked().Subscribe(func(string) { serverFired = true })

	got := make(map[PeerID][]string)
	events := make(map[PeerID]*C2CEvent[string])
	for id, h := range tn.clients {
		id := id
		e, err := NewC2CEvent[string](ctx, h, "room")
		if err != nil {
			t.Fatal(err)
		}
		e.Invoked().Subscribe(func(v string) { got[id] = append(got[id], v) })
		events[id] = e
	}

	if err := events["alice"].Send(ctx, "hello"); err != nil {
		t.Fatal(err)
	}

	for _, id := range []PeerID{"alice", "bob", "carol"} {
		if want := []string{"hello"}; !reflect.DeepEqual(got[id], want) {
			t.Errorf("%s got %v, want %v", id, got[id], want)
		}
	}
	if serverFired {
		t.Error("server Invoked fired")
	}

	if err := srv.Send(ctx, "from server"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []PeerID{"alice", "bob", "carol"} {
		if n := len(got[id]); n != 2 {
			t.Errorf("%s got %d events, want 2", id, n)
		}
	}
}

func TestClientAttachWaitsForServer(t *testing.T) {
	ctx := testContext(t)
	tn := newTestNetwork(t, nil, "alice")

	type result struct {
		e   *C2SEvent[int]
		err error
	}
	done := make(chan result, 1)
	go func() {
		e, err := NewC2SEvent[int](ctx, tn.clients["alice"], "late")
		done <- result{e, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("attached before the server created the channel: %v", r.err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := NewC2SEvent[int](ctx, tn.server, "late"); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("attach: %v", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("attach did not complete")
	}
}

func TestClientAttachCancelled(t *testing.T) {
	tn := newTestNetwork(t, nil, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewC2SEvent[int](ctx, tn.clients["alice"], "never")
	if !errors.Is(err, ErrNotAttached) {
		t.Fatalf("got %v, want ErrNotAttached", err)
	}
	if len(tn.clients["alice"].Channels()) != 0 {
		t.Fatal("failed attach left a reservation")
	}
}

func TestEventsOnScheduler(t *testing.T) {
	n := NewNetwork()
	sched := NewScheduler()
	server := NewHost(n.Server(WithDispatcher(sched)))
	defer server.Close()
	tr, err := n.Connect("alice")
	if err != nil {
		t.Fatal(err)
	}
	client := NewHost(tr)
	defer client.Close()

	ctx := testContext(t)
	srv, err := NewC2SEvent[int](ctx, server, "n")
	if err != nil {
		t.Fatal(err)
	}
	cli, err := NewC2SEvent[int](ctx, client, "n")
	if err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	srv.Invoked().Subscribe(func(m Message[int]) {
		got = append(got, m.Payload)
		if len(got) == 3 {
			cancel()
		}
	})
	for i := 1; i <= 3; i++ {
		if err := cli.Send(ctx, i); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 0 {
		t.Fatalf("delivered before the scheduler ran: %v", got)
	}
	if sched.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", sched.Pending())
	}

	if err := sched.Run(runCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
	if want := []int{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
