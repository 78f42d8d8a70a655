// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment configuration of a remote process.
type Config struct {
	Transport     string        `env:"REMOTE_TRANSPORT"      envDefault:"zap"`
	Addr          string        `env:"REMOTE_ADDR"           envDefault:"127.0.0.1:9000"`
	Tick          time.Duration `env:"REMOTE_TICK"           envDefault:"16ms"`
	AttachTimeout time.Duration `env:"REMOTE_ATTACH_TIMEOUT" envDefault:"30s"`
	MaxFrame      uint32        `env:"REMOTE_MAX_FRAME"      envDefault:"67108864"`
	LogLevel      string        `env:"REMOTE_LOG_LEVEL"      envDefault:"info"`
	BridgeAddr    string        `env:"REMOTE_BRIDGE_ADDR"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values env.Parse cannot.
func (c Config) Validate() error {
	if !HasTransport(c.Transport) {
		return fmt.Errorf("unknown transport %q (available: %s)", c.Transport, strings.Join(AvailableTransports(), ", "))
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.MaxFrame < frameHeaderSize {
		return fmt.Errorf("max frame %d is smaller than a frame header", c.MaxFrame)
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger returns a text logger on stderr at the configured level.
func (c Config) Logger() *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// TransportOptions projects the config onto transport options.
func (c Config) TransportOptions(logger *slog.Logger) []TransportOption {
	return []TransportOption{
		WithTransport(c.Transport),
		WithTransportLogger(logger),
		WithAttachTimeout(c.AttachTimeout),
		WithMaxFrameSize(c.MaxFrame),
	}
}

// HostOptions projects the config onto host options.
func (c Config) HostOptions(logger *slog.Logger) []HostOption {
	return []HostOption{
		WithLogger(logger),
		WithTickInterval(c.Tick),
	}
}
