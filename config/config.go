// Package config loads tickline's process configuration: a YAML file for
// structure (which transports to boot, apps to serve, auth mode) plus
// environment variables for secrets (API keys, tokens), following the
// teacher's module-config pattern of a defaults() pass over a plain struct
// decoded straight from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root of a tickline process's configuration file.
type Config struct {
	Gateway   GatewayConfig          `yaml:"gateway"`
	Transport TransportConfig        `yaml:"transport"`
	Apps      map[string]AppConfig   `yaml:"apps"`
	Registry  RegistryConfig         `yaml:"registry"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
}

// GatewayConfig configures the Gateway's auth and client-buffer behavior.
type GatewayConfig struct {
	// AuthMode is "none", "token", or "custom".
	AuthMode string `yaml:"auth_mode"`
	// AuthTokenEnv names the environment variable holding the shared token
	// when AuthMode is "token". Defaults to TICKLINE_AUTH_TOKEN.
	AuthTokenEnv string `yaml:"auth_token_env"`
	// ClientBufferMax bounds each client's pending event queue.
	ClientBufferMax int `yaml:"client_buffer_max"`
	// ClientOverflowPolicy is "disconnect" or "drop-oldest" (matching
	// clientbuf.OverflowPolicy's wire values).
	ClientOverflowPolicy string `yaml:"client_overflow_policy"`
}

// TransportConfig selects and configures the transport variants to boot.
type TransportConfig struct {
	SSE       *SSEConfig       `yaml:"sse"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	SocketIO  *SocketIOConfig  `yaml:"socketio"`
	Unix      *UnixConfig      `yaml:"unix"`
}

// SSEConfig configures the HTTP+SSE transport.
type SSEConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	Addr                    string `yaml:"addr"`
	Path                    string `yaml:"path"`
	InsecureSkipOriginCheck bool   `yaml:"insecure_skip_origin_check"`
}

// SocketIOConfig configures the Socket.IO-compatible transport.
type SocketIOConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// UnixConfig configures the Unix domain socket transport.
type UnixConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// AppConfig configures one agent definition the process serves.
type AppConfig struct {
	// Default marks this app as the default one unqualified session keys
	// resolve to.
	Default bool `yaml:"default"`
	// Adapter selects the model adapter backend: "anthropic", "openai", or
	// "bedrock".
	Adapter string `yaml:"adapter"`
	// Model overrides the adapter's default model id.
	Model string `yaml:"model"`
	// MaxTokens overrides the adapter's default completion cap.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature overrides the adapter's default sampling temperature.
	Temperature float64 `yaml:"temperature"`
	// Fanout bounds concurrent tool execution per tick.
	Fanout int `yaml:"fanout"`
	// SnapshotStore names the hibernation backend: "memory", "redis", or
	// "mongo". `tickline serve` does not read it: every app it builds uses
	// the App's default in-memory store.
	SnapshotStore string `yaml:"snapshot_store"`
}

// RegistryConfig describes the standalone cross-process agent registry.
// Neither `tickline serve` nor `tickline registry` reads this section; the
// registry command takes its settings from flags.
type RegistryConfig struct {
	// Enabled marks registration with a remote registry service as wanted;
	// no command in this module registers with one.
	Enabled bool `yaml:"enabled"`
	// Addr is the registry service's gRPC address.
	Addr string `yaml:"addr"`
	// Name is the cluster name nodes share to form one registry.
	Name string `yaml:"name"`
	// PingInterval between App liveness pings.
	PingInterval time.Duration `yaml:"ping_interval"`
	// MissedPingThreshold before an App is marked unhealthy.
	MissedPingThreshold int `yaml:"missed_ping_threshold"`
}

// TelemetryConfig selects the observability backend.
type TelemetryConfig struct {
	// Backend is "noop", "clue", or "prometheus".
	Backend string `yaml:"backend"`
	// MetricsAddr serves /metrics when Backend is "prometheus".
	MetricsAddr string `yaml:"metrics_addr"`
}

// defaults fills zero-valued fields with the same conservative defaults
// their owning package applies when left unconfigured.
func (c *Config) defaults() {
	if c.Gateway.AuthMode == "" {
		c.Gateway.AuthMode = "none"
	}
	if c.Gateway.AuthTokenEnv == "" {
		c.Gateway.AuthTokenEnv = "TICKLINE_AUTH_TOKEN"
	}
	if c.Gateway.ClientBufferMax == 0 {
		c.Gateway.ClientBufferMax = 256
	}
	if c.Gateway.ClientOverflowPolicy == "" {
		c.Gateway.ClientOverflowPolicy = "drop-oldest"
	}
	if c.Registry.Name == "" {
		c.Registry.Name = "tickline-registry"
	}
	if c.Registry.PingInterval == 0 {
		c.Registry.PingInterval = 10 * time.Second
	}
	if c.Registry.MissedPingThreshold == 0 {
		c.Registry.MissedPingThreshold = 3
	}
	if c.Telemetry.Backend == "" {
		c.Telemetry.Backend = "noop"
	}
	for name, app := range c.Apps {
		if app.Fanout == 0 {
			app.Fanout = 8
		}
		if app.SnapshotStore == "" {
			app.SnapshotStore = "memory"
		}
		c.Apps[name] = app
	}
}

// Load reads and decodes a YAML config file at path, applying defaults to
// any zero-valued field. It also loads a .env file from the current working
// directory (if present) into the process environment before reading path,
// so AuthTokenEnv and
// per-adapter API-key environment variables are available to the caller.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.defaults()
	return &cfg, nil
}

// AuthToken resolves the gateway's shared auth token from the environment
// variable named by Gateway.AuthTokenEnv.
func (c *Config) AuthToken() string {
	return os.Getenv(c.Gateway.AuthTokenEnv)
}

// AdapterAPIKeyEnv returns the conventional environment variable name an
// adapter backend reads its API key from.
func AdapterAPIKeyEnv(adapter string) string {
	switch adapter {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "bedrock":
		return "AWS_ACCESS_KEY_ID"
	default:
		return ""
	}
}
