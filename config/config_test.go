package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/agentbeat/errors"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Scan.StartPort != 8080 || cfg.Scan.MaxAttempts != 100 {
		t.Errorf("scan defaults = %+v", cfg.Scan)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 0 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentbeat.toml")
	content := `
[agent]
id = "agent-1"
name = "Code Review Agent"
capabilities = ["code-review", "testing"]

[server]
port = 9000
read_header_timeout = "2s"

[registry]
nats_url = "nats://localhost:4222"
ttl = "45s"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.ID != "agent-1" || len(cfg.Agent.Capabilities) != 2 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Server.Port != 9000 || cfg.Server.ReadHeaderTimeout != 2*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Registry.TTL != 45*time.Second {
		t.Errorf("registry.ttl = %v", cfg.Registry.TTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Scan.StartPort != 8080 || cfg.Registry.Bucket != "agent-heartbeats" {
		t.Errorf("defaults lost: scan=%+v registry=%+v", cfg.Scan, cfg.Registry)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentbeat.yaml")
	content := `
agent:
  id: agent-2
  capabilities: [summarize]
scan:
  start_port: 9100
  max_attempts: 5
shutdown:
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.ID != "agent-2" || cfg.Scan.StartPort != 9100 || cfg.Scan.MaxAttempts != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Shutdown.Timeout != 3*time.Second {
		t.Errorf("shutdown.timeout = %v", cfg.Shutdown.Timeout)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"bad toml", "[agent\nid=", "toml"},
		{"unknown toml key", "[agent]\nidd = \"x\"", "toml"},
		{"bad yaml", "agent: [", "yaml"},
		{"unknown yaml key", "agent:\n  idd: x\n", "yaml"},
		{"unknown format", "", "ini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			if !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Parse() error = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestParse_EmptyYAML(t *testing.T) {
	cfg, err := Parse(nil, "yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Scan.StartPort != Default().Scan.StartPort {
		t.Errorf("StartPort = %d, want default", cfg.Scan.StartPort)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Load() error = %v, want INVALID_CONFIG", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AGENTBEAT_AGENT_ID":         "env-agent",
		"AGENTBEAT_CAPABILITIES":     "a, b ,,c",
		"AGENTBEAT_PORT":             "8181",
		"AGENTBEAT_OTLP_INSECURE":    "true",
		"AGENTBEAT_SHUTDOWN_TIMEOUT": "1m",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Agent.ID != "env-agent" || cfg.Server.Port != 8181 || !cfg.Telemetry.Insecure {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Agent.Capabilities) != 3 || cfg.Agent.Capabilities[1] != "b" {
		t.Errorf("capabilities = %v", cfg.Agent.Capabilities)
	}
	if cfg.Shutdown.Timeout != time.Minute {
		t.Errorf("shutdown.timeout = %v", cfg.Shutdown.Timeout)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "AGENTBEAT_PORT" {
			return "eighty", true
		}
		return "", false
	})
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("ApplyEnv() error = %v, want INVALID_CONFIG", err)
	}
	if cfg.Server.Port != 0 {
		t.Errorf("bad value should not be applied, port = %d", cfg.Server.Port)
	}
}

func TestEnsureAgentID(t *testing.T) {
	cfg := Default()
	if !cfg.EnsureAgentID() || cfg.Agent.ID == "" {
		t.Fatal("EnsureAgentID() should generate an ID")
	}
	id := cfg.Agent.ID
	if cfg.EnsureAgentID() || cfg.Agent.ID != id {
		t.Error("EnsureAgentID() must keep an existing ID")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"start port", func(c *Config) { c.Scan.StartPort = 0 }},
		{"attempts", func(c *Config) { c.Scan.MaxAttempts = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
		{"events protocol", func(c *Config) { c.Telemetry.EventsProtocol = "kafka" }},
		{"refresh vs ttl", func(c *Config) {
			c.Registry.NATSURL = "nats://x"
			c.Registry.RefreshInterval = time.Minute
		}},
		{"shutdown", func(c *Config) { c.Shutdown.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Validate() error = %v, want INVALID_CONFIG", err)
			}
		})
	}
}
