// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Transport != TransportZAP {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.Tick != DefaultTickInterval {
		t.Errorf("Tick = %s", cfg.Tick)
	}
	if cfg.AttachTimeout != DefaultAttachTimeout {
		t.Errorf("AttachTimeout = %s", cfg.AttachTimeout)
	}
	if cfg.MaxFrame != DefaultMaxFrameSize {
		t.Errorf("MaxFrame = %d", cfg.MaxFrame)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("REMOTE_TRANSPORT", "grpc")
	t.Setenv("REMOTE_TICK", "5ms")
	t.Setenv("REMOTE_ATTACH_TIMEOUT", "2s")
	t.Setenv("REMOTE_LOG_LEVEL", "debug")
	t.Setenv("REMOTE_BRIDGE_ADDR", ":8080")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Transport != TransportGRPC || cfg.Tick != 5*time.Millisecond || cfg.AttachTimeout != 2*time.Second || cfg.BridgeAddr != ":8080" {
		t.Fatalf("got %+v", cfg)
	}
	if !cfg.Logger().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger is not at debug level")
	}

	o := newTransportOptions(cfg.TransportOptions(slog.Default()))
	if o.transport != TransportGRPC || o.attachTimeout != 2*time.Second {
		t.Errorf("transport options = %+v", o)
	}
	h := newHostOptions(cfg.HostOptions(slog.Default()))
	if h.tick != 5*time.Millisecond {
		t.Errorf("host tick = %s", h.tick)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"bad duration", "REMOTE_TICK", "soon", "parse env:"},
		{"unknown transport", "REMOTE_TRANSPORT", "carrier-pigeon", "unknown transport"},
		{"bad level", "REMOTE_LOG_LEVEL", "loud", "log level"},
		{"tiny frame", "REMOTE_MAX_FRAME", "3", "max frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}
