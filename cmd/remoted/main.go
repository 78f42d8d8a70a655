// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command remoted runs a demo server with a rate-limited ping function and a
// chat channel that relays every message to the other clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/remote"
)

type chatMessage struct {
	Text string `json:"text"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := remote.LoadConfig()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := remote.Listen(cfg.Addr, cfg.TransportOptions(logger)...)
	if err != nil {
		return err
	}
	host := remote.NewHost(srv, cfg.HostOptions(logger)...)
	defer host.Close()

	ping, err := remote.NewC2S2CFunction[string, string](ctx, host, "ping")
	if err != nil {
		return err
	}
	ping.AddMiddleware(remote.RateLimiter(10, time.Second))
	if _, err := ping.Subscribe(func(_ context.Context, from remote.PeerID, msg string) (string, error) {
		logger.Info("ping", "from", string(from), "msg", msg)
		return "pong: " + msg, nil
	}); err != nil {
		return err
	}

	if _, err := remote.NewC2CEvent[chatMessage](ctx, host, "chat"); err != nil {
		return err
	}
	announce, err := remote.NewS2CEvent[chatMessage](ctx, host, "announce")
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- srv.Serve(ctx) }()

	if cfg.BridgeAddr != "" {
		bridge, err := remote.NewBridge(host)
		if err != nil {
			return err
		}
		httpServer := &http.Server{Addr: cfg.BridgeAddr, Handler: bridge, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("bridge listening", "addr", cfg.BridgeAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
		defer httpServer.Close()
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case err := <-errc:
			return err
		case <-ticker.C:
			peers := srv.Peers()
			if len(peers) == 0 {
				continue
			}
			msg := chatMessage{Text: fmt.Sprintf("%d clients connected", len(peers))}
			if err := announce.Send(ctx, remote.ToEveryone(), msg); err != nil {
				logger.Warn("announce failed", "error", err)
			}
		}
	}
}
