package client

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cfilipov/wsio/packet"
)

// WebSocketConfig mirrors the frame/message/buffer tuning spec §6 calls
// "websocket_config"; it also drives the outbound channel capacity formula
// (internal/bufcap).
type WebSocketConfig struct {
	MaxWriteBufferSize int64
	WriteBufferSize    int64
	ReadLimit          int64
}

// DefaultWebSocketConfig returns the defaults used when a Config doesn't
// override them.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		MaxWriteBufferSize: 1 << 20, // 1 MiB
		WriteBufferSize:    4096,
		ReadLimit:          1 << 20,
	}
}

// Config holds the client runtime's tunables, spec §6 (client table).
type Config struct {
	InitHandlerTimeout           time.Duration
	InitPacketTimeout            time.Duration
	ReadyPacketTimeout           time.Duration
	OnSessionCloseHandlerTimeout time.Duration
	PingInterval                 time.Duration
	ReconnectDelay               time.Duration
	Codec                        packet.Codec
	WebSocket                    WebSocketConfig
	// RequestPath is the server's well-known mount point; the connect URL's
	// path is rewritten to this value (spec §6).
	RequestPath string
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		InitHandlerTimeout:           3 * time.Second,
		InitPacketTimeout:            5 * time.Second,
		ReadyPacketTimeout:           5 * time.Second,
		OnSessionCloseHandlerTimeout: 2 * time.Second,
		PingInterval:                 25 * time.Second,
		ReconnectDelay:               1 * time.Second,
		Codec:                        packet.JSON,
		WebSocket:                    DefaultWebSocketConfig(),
		RequestPath:                  "/ws.io",
	}
}

// Parse builds a Config layered the way internal/config/config.go's Parse
// does: DefaultConfig()'s values are the flag defaults, command-line flags
// override those, and WSIO_CLIENT_* environment variables override the
// flags (if set). Call once, from the embedding application's main.
func Parse() Config {
	cfg := DefaultConfig()

	flag.DurationVar(&cfg.InitHandlerTimeout, "client-init-handler-timeout", cfg.InitHandlerTimeout, "timeout for the client's init handler")
	flag.DurationVar(&cfg.InitPacketTimeout, "client-init-packet-timeout", cfg.InitPacketTimeout, "deadline waiting for the server's init packet")
	flag.DurationVar(&cfg.ReadyPacketTimeout, "client-ready-packet-timeout", cfg.ReadyPacketTimeout, "deadline waiting for the server's ready packet")
	flag.DurationVar(&cfg.OnSessionCloseHandlerTimeout, "client-on-close-handler-timeout", cfg.OnSessionCloseHandlerTimeout, "timeout for the session close handler")
	flag.DurationVar(&cfg.PingInterval, "client-ping-interval", cfg.PingInterval, "interval between client heartbeat frames")
	flag.DurationVar(&cfg.ReconnectDelay, "client-reconnect-delay", cfg.ReconnectDelay, "delay between reconnect attempts")
	flag.StringVar(&cfg.RequestPath, "client-request-path", cfg.RequestPath, "server mount path rewritten onto the connect URL")
	flag.Parse()

	if v := os.Getenv("WSIO_CLIENT_INIT_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InitHandlerTimeout = d
		}
	}
	if v := os.Getenv("WSIO_CLIENT_INIT_PACKET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InitPacketTimeout = d
		}
	}
	if v := os.Getenv("WSIO_CLIENT_READY_PACKET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReadyPacketTimeout = d
		}
	}
	if v := os.Getenv("WSIO_CLIENT_ON_CLOSE_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OnSessionCloseHandlerTimeout = d
		}
	}
	if v := os.Getenv("WSIO_CLIENT_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PingInterval = d
		}
	}
	if v := os.Getenv("WSIO_CLIENT_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReconnectDelay = d
		}
	}
	if v := os.Getenv("WSIO_CLIENT_REQUEST_PATH"); v != "" {
		cfg.RequestPath = v
	}

	return cfg
}

// yamlOverlay mirrors Config but with primitive, YAML-friendly field types
// (duration strings) so operators can ship a small overlay file instead of
// a long flag/env-var list. Grounded on internal/compose/parse.go's use of
// gopkg.in/yaml.v3 for structured config documents.
type yamlOverlay struct {
	InitHandlerTimeout           string `yaml:"initHandlerTimeout"`
	InitPacketTimeout            string `yaml:"initPacketTimeout"`
	ReadyPacketTimeout           string `yaml:"readyPacketTimeout"`
	OnSessionCloseHandlerTimeout string `yaml:"onSessionCloseHandlerTimeout"`
	PingInterval                 string `yaml:"pingInterval"`
	ReconnectDelay               string `yaml:"reconnectDelay"`
	RequestPath                  string `yaml:"requestPath"`
}

// LoadYAMLOverrides reads path and applies any fields it sets onto cfg.
// Fields absent from the file are left untouched.
func LoadYAMLOverrides(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("client: read config overlay: %w", err)
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return fmt.Errorf("client: parse config overlay: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{overlay.InitHandlerTimeout, &cfg.InitHandlerTimeout},
		{overlay.InitPacketTimeout, &cfg.InitPacketTimeout},
		{overlay.ReadyPacketTimeout, &cfg.ReadyPacketTimeout},
		{overlay.OnSessionCloseHandlerTimeout, &cfg.OnSessionCloseHandlerTimeout},
		{overlay.PingInterval, &cfg.PingInterval},
		{overlay.ReconnectDelay, &cfg.ReconnectDelay},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("client: parse config overlay: %w", err)
		}
		*f.dst = d
	}

	if overlay.RequestPath != "" {
		cfg.RequestPath = overlay.RequestPath
	}

	return nil
}
