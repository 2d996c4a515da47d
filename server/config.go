package server

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cfilipov/wsio/packet"
)

// WebSocketConfig mirrors client.WebSocketConfig; kept as its own type here
// (rather than shared) because server and client are independent leaf
// packages per spec §0's module layout.
type WebSocketConfig struct {
	MaxWriteBufferSize int64
	WriteBufferSize    int64
	ReadLimit          int64
}

// DefaultWebSocketConfig returns the defaults used when a Config doesn't
// override them.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		MaxWriteBufferSize: 1 << 20,
		WriteBufferSize:    4096,
		ReadLimit:          1 << 20,
	}
}

// Config holds a namespace's tunables, spec §6 (server table).
type Config struct {
	InitRequestHandlerTimeout  time.Duration
	InitResponseHandlerTimeout time.Duration
	InitResponseTimeout        time.Duration
	MiddlewareExecutionTimeout time.Duration
	OnConnectHandlerTimeout    time.Duration
	OnCloseHandlerTimeout      time.Duration
	BroadcastConcurrencyLimit  int
	Codec                      packet.Codec
	RequestPath                string
	WebSocket                  WebSocketConfig
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		InitRequestHandlerTimeout:  3 * time.Second,
		InitResponseHandlerTimeout: 3 * time.Second,
		InitResponseTimeout:        5 * time.Second,
		MiddlewareExecutionTimeout: 2 * time.Second,
		OnConnectHandlerTimeout:    3 * time.Second,
		OnCloseHandlerTimeout:      2 * time.Second,
		BroadcastConcurrencyLimit:  512,
		Codec:                      packet.JSON,
		RequestPath:                "/ws.io",
		WebSocket:                  DefaultWebSocketConfig(),
	}
}

// Parse builds a Config layered the way internal/config/config.go's Parse
// does: DefaultConfig()'s values are the flag defaults, command-line flags
// override those, and WSIO_SERVER_* environment variables override the
// flags (if set). Call once, from the embedding application's main.
func Parse() Config {
	cfg := DefaultConfig()

	flag.DurationVar(&cfg.InitRequestHandlerTimeout, "server-init-request-handler-timeout", cfg.InitRequestHandlerTimeout, "timeout for the init_request_handler")
	flag.DurationVar(&cfg.InitResponseHandlerTimeout, "server-init-response-handler-timeout", cfg.InitResponseHandlerTimeout, "timeout for the init_response_handler")
	flag.DurationVar(&cfg.InitResponseTimeout, "server-init-response-timeout", cfg.InitResponseTimeout, "deadline waiting for the client's init reply")
	flag.DurationVar(&cfg.MiddlewareExecutionTimeout, "server-middleware-execution-timeout", cfg.MiddlewareExecutionTimeout, "timeout for the middleware chain")
	flag.DurationVar(&cfg.OnConnectHandlerTimeout, "server-on-connect-handler-timeout", cfg.OnConnectHandlerTimeout, "timeout for the on_connect handler")
	flag.DurationVar(&cfg.OnCloseHandlerTimeout, "server-on-close-handler-timeout", cfg.OnCloseHandlerTimeout, "timeout for the on_close handler")
	flag.IntVar(&cfg.BroadcastConcurrencyLimit, "server-broadcast-concurrency-limit", cfg.BroadcastConcurrencyLimit, "max concurrent writes during a broadcast fan-out")
	flag.StringVar(&cfg.RequestPath, "server-request-path", cfg.RequestPath, "HTTP path the runtime mounts ServeHTTP on")
	flag.Parse()

	if v := os.Getenv("WSIO_SERVER_INIT_REQUEST_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InitRequestHandlerTimeout = d
		}
	}
	if v := os.Getenv("WSIO_SERVER_INIT_RESPONSE_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InitResponseHandlerTimeout = d
		}
	}
	if v := os.Getenv("WSIO_SERVER_INIT_RESPONSE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InitResponseTimeout = d
		}
	}
	if v := os.Getenv("WSIO_SERVER_MIDDLEWARE_EXECUTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MiddlewareExecutionTimeout = d
		}
	}
	if v := os.Getenv("WSIO_SERVER_ON_CONNECT_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OnConnectHandlerTimeout = d
		}
	}
	if v := os.Getenv("WSIO_SERVER_ON_CLOSE_HANDLER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OnCloseHandlerTimeout = d
		}
	}
	if v := os.Getenv("WSIO_SERVER_BROADCAST_CONCURRENCY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BroadcastConcurrencyLimit = n
		}
	}
	if v := os.Getenv("WSIO_SERVER_REQUEST_PATH"); v != "" {
		cfg.RequestPath = v
	}

	return cfg
}

// yamlOverlay mirrors client.yamlOverlay's purpose: a small operator-facing
// overlay file read with gopkg.in/yaml.v3, the library the teacher uses for
// structured config documents in internal/compose/parse.go.
type yamlOverlay struct {
	InitRequestHandlerTimeout  string `yaml:"initRequestHandlerTimeout"`
	InitResponseHandlerTimeout string `yaml:"initResponseHandlerTimeout"`
	InitResponseTimeout        string `yaml:"initResponseTimeout"`
	MiddlewareExecutionTimeout string `yaml:"middlewareExecutionTimeout"`
	OnConnectHandlerTimeout    string `yaml:"onConnectHandlerTimeout"`
	OnCloseHandlerTimeout      string `yaml:"onCloseHandlerTimeout"`
	BroadcastConcurrencyLimit  int    `yaml:"broadcastConcurrencyLimit"`
	RequestPath                string `yaml:"requestPath"`
}

// LoadYAMLOverrides reads path and applies any fields it sets onto cfg.
func LoadYAMLOverrides(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("server: read config overlay: %w", err)
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return fmt.Errorf("server: parse config overlay: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{overlay.InitRequestHandlerTimeout, &cfg.InitRequestHandlerTimeout},
		{overlay.InitResponseHandlerTimeout, &cfg.InitResponseHandlerTimeout},
		{overlay.InitResponseTimeout, &cfg.InitResponseTimeout},
		{overlay.MiddlewareExecutionTimeout, &cfg.MiddlewareExecutionTimeout},
		{overlay.OnConnectHandlerTimeout, &cfg.OnConnectHandlerTimeout},
		{overlay.OnCloseHandlerTimeout, &cfg.OnCloseHandlerTimeout},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("server: parse config overlay: %w", err)
		}
		*f.dst = d
	}

	if overlay.BroadcastConcurrencyLimit > 0 {
		cfg.BroadcastConcurrencyLimit = overlay.BroadcastConcurrencyLimit
	}
	if overlay.RequestPath != "" {
		cfg.RequestPath = overlay.RequestPath
	}

	return nil
}
