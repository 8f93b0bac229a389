package registry

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnConfig describes how to reach the NATS server backing NATSRegistry.
type ConnConfig struct {
	// URL is the NATS server URL. Default: nats://127.0.0.1:4222
	URL string

	// Name identifies the client in server monitoring.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects attempts. Zero takes the default, -1 (unlimited).
	MaxReconnects int

	// ConnectTimeout for the initial dial.
	ConnectTimeout time.Duration
}

// DefaultConnConfig returns configuration with sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Connect dials NATS. The caller owns the returned connection.
func Connect(cfg ConnConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(cfg.URL, connOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

func connOptions(cfg ConnConfig) []nats.Option {
	def := DefaultConnConfig()
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}
