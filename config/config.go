// Package config loads sidecar configuration from TOML or YAML files and
// AGENTBEAT_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/vinayprograms/agentbeat/errors"
	"github.com/vinayprograms/agentbeat/logging"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTBEAT_"

// Config is the full sidecar configuration.
type Config struct {
	Agent     AgentConfig     `toml:"agent" yaml:"agent"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Scan      ScanConfig      `toml:"scan" yaml:"scan"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Registry  RegistryConfig  `toml:"registry" yaml:"registry"`
	Shutdown  ShutdownConfig  `toml:"shutdown" yaml:"shutdown"`
}

// AgentConfig is the advertised identity.
type AgentConfig struct {
	ID           string   `toml:"id" yaml:"id"`
	Name         string   `toml:"name" yaml:"name"`
	Capabilities []string `toml:"capabilities" yaml:"capabilities"`
}

// ServerConfig controls the responder. Port 0 means scan for a free port.
type ServerConfig struct {
	Host              string        `toml:"host" yaml:"host"`
	Port              int           `toml:"port" yaml:"port"`
	CORSOrigins       []string      `toml:"cors_origins" yaml:"cors_origins"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" yaml:"read_header_timeout"`
}

// ScanConfig controls port resolution.
type ScanConfig struct {
	StartPort   int    `toml:"start_port" yaml:"start_port"`
	MaxAttempts int    `toml:"max_attempts" yaml:"max_attempts"`
	Host        string `toml:"host" yaml:"host"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// TelemetryConfig selects the trace and event exporters. Empty endpoints
// disable the corresponding exporter.
type TelemetryConfig struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Protocol       string `toml:"protocol" yaml:"protocol"`
	Insecure       bool   `toml:"insecure" yaml:"insecure"`
	ServiceName    string `toml:"service_name" yaml:"service_name"`
	EventsProtocol string `toml:"events_protocol" yaml:"events_protocol"`
	EventsEndpoint string `toml:"events_endpoint" yaml:"events_endpoint"`
}

// RegistryConfig enables NATS announcement when NATSURL is set.
type RegistryConfig struct {
	NATSURL         string        `toml:"nats_url" yaml:"nats_url"`
	NATSToken       string        `toml:"nats_token" yaml:"nats_token"`
	Bucket          string        `toml:"bucket" yaml:"bucket"`
	TTL             time.Duration `toml:"ttl" yaml:"ttl"`
	RefreshInterval time.Duration `toml:"refresh_interval" yaml:"refresh_interval"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout time.Duration `toml:"timeout" yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			ReadHeaderTimeout: 5 * time.Second,
		},
		Scan: ScanConfig{
			StartPort:   8080,
			MaxAttempts: 100,
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "agentbeat",
		},
		Registry: RegistryConfig{
			Bucket:          "agent-heartbeats",
			TTL:             30 * time.Second,
			RefreshInterval: 10 * time.Second,
		},
		Shutdown: ShutdownConfig{Timeout: 10 * time.Second},
	}
}

// DefaultPaths returns the locations searched when no file is given:
// ./agentbeat.toml, ./agentbeat.yaml, then ~/.config/agentbeat/agentbeat.toml.
func DefaultPaths() []string {
	paths := []string{"agentbeat.toml", "agentbeat.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentbeat", "agentbeat.toml"))
	}
	return paths
}

// Load reads path over the defaults. The format follows the extension:
// .yaml/.yml is YAML, anything else TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "read config "+path)
	}
	return Parse(data, formatOf(path))
}

// LoadDefault loads the first existing file from DefaultPaths, or the
// defaults if none exists.
func LoadDefault() (*Config, string, error) {
	for _, p := range DefaultPaths() {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	return Default(), "", nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

// Parse decodes data ("toml" or "yaml") over the defaults.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "parse toml config")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.InvalidConfig(fmt.Sprintf("unknown config key %q", undecoded[0].String()))
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "parse yaml config")
		}
	default:
		return nil, errors.InvalidConfig("unknown config format " + format)
	}
	return cfg, nil
}

// ApplyEnv overlays AGENTBEAT_* variables read through lookup (usually
// os.LookupEnv). Lists are comma-separated.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = splitList(v)
		}
	}
	var firstErr error
	fail := func(key, value, want string) {
		if firstErr == nil {
			firstErr = errors.InvalidConfig(fmt.Sprintf("%s%s: %q is not %s", EnvPrefix, key, value, want))
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				fail(key, v, "a number")
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				fail(key, v, "a duration")
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				fail(key, v, "a boolean")
				return
			}
			*dst = b
		}
	}

	str("AGENT_ID", &c.Agent.ID)
	str("AGENT_NAME", &c.Agent.Name)
	list("CAPABILITIES", &c.Agent.Capabilities)
	str("HOST", &c.Server.Host)
	num("PORT", &c.Server.Port)
	list("CORS_ORIGINS", &c.Server.CORSOrigins)
	num("SCAN_START_PORT", &c.Scan.StartPort)
	num("SCAN_MAX_ATTEMPTS", &c.Scan.MaxAttempts)
	str("LOG_LEVEL", &c.Log.Level)
	str("SERVICE_NAME", &c.Telemetry.ServiceName)
	str("OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("OTLP_PROTOCOL", &c.Telemetry.Protocol)
	flag("OTLP_INSECURE", &c.Telemetry.Insecure)
	str("EVENTS_PROTOCOL", &c.Telemetry.EventsProtocol)
	str("EVENTS_ENDPOINT", &c.Telemetry.EventsEndpoint)
	str("NATS_URL", &c.Registry.NATSURL)
	str("NATS_TOKEN", &c.Registry.NATSToken)
	str("REGISTRY_BUCKET", &c.Registry.Bucket)
	dur("REGISTRY_TTL", &c.Registry.TTL)
	dur("REGISTRY_REFRESH_INTERVAL", &c.Registry.RefreshInterval)
	dur("SHUTDOWN_TIMEOUT", &c.Shutdown.Timeout)
	return firstErr
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EnsureAgentID assigns a random UUID when no agent ID is configured and
// reports whether it did.
func (c *Config) EnsureAgentID() bool {
	if c.Agent.ID != "" {
		return false
	}
	c.Agent.ID = uuid.NewString()
	return true
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.InvalidConfig(fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Scan.StartPort < 1 || c.Scan.StartPort > 65535 {
		return errors.InvalidConfig(fmt.Sprintf("scan.start_port %d out of range", c.Scan.StartPort))
	}
	if c.Scan.MaxAttempts < 1 {
		return errors.InvalidConfig("scan.max_attempts must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "log.level")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.InvalidConfig("telemetry.protocol must be grpc or http")
	}
	switch c.Telemetry.EventsProtocol {
	case "", "noop", "http", "file":
	default:
		return errors.InvalidConfig("telemetry.events_protocol must be http, file or noop")
	}
	if c.Registry.RefreshInterval < 0 || c.Registry.TTL < 0 {
		return errors.InvalidConfig("registry durations must not be negative")
	}
	if c.Registry.NATSURL != "" && c.Registry.TTL > 0 && c.Registry.RefreshInterval >= c.Registry.TTL {
		return errors.InvalidConfig("registry.refresh_interval must be shorter than registry.ttl")
	}
	if c.Shutdown.Timeout <= 0 {
		return errors.InvalidConfig("shutdown.timeout must be positive")
	}
	return nil
}
