// Package config loads syncboard settings from SYNCBOARD_* environment
// variables. Command-line flags override individual fields.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/syncboard/internal/syncclient"
)

// Config is the process-wide configuration.
type Config struct {
	Addr         string        `env:"SYNCBOARD_ADDR"             envDefault:"127.0.0.1:8080"`
	ServerURL    string        `env:"SYNCBOARD_SERVER_URL"       envDefault:"http://127.0.0.1:8080"`
	StoreDriver  string        `env:"SYNCBOARD_STORE_DRIVER"     envDefault:"sqlite3"`
	StoreDSN     string        `env:"SYNCBOARD_STORE_DSN"        envDefault:"syncboard.db"`
	LogLimit     int           `env:"SYNCBOARD_LOG_LIMIT"        envDefault:"10"`
	HubBuffer    int           `env:"SYNCBOARD_HUB_BUFFER"       envDefault:"64"`
	PingInterval time.Duration `env:"SYNCBOARD_WS_PING_INTERVAL" envDefault:"15s"`
	ReadTimeout  time.Duration `env:"SYNCBOARD_WS_READ_TIMEOUT"  envDefault:"30s"`

	OTelEndpoint string `env:"SYNCBOARD_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"SYNCBOARD_OTEL_ENABLED" envDefault:"true"`

	Sync Sync
}

// Sync holds the sync client's timing settings.
type Sync struct {
	ResolveTimeout    time.Duration `env:"SYNCBOARD_SYNC_RESOLVE_TIMEOUT"     envDefault:"10s"`
	FetchTimeout      time.Duration `env:"SYNCBOARD_SYNC_FETCH_TIMEOUT"       envDefault:"8s"`
	Debounce          time.Duration `env:"SYNCBOARD_SYNC_DEBOUNCE"            envDefault:"300ms"`
	Cooldown          time.Duration `env:"SYNCBOARD_SYNC_COOLDOWN"            envDefault:"1s"`
	FailureThreshold  int           `env:"SYNCBOARD_SYNC_FAILURE_THRESHOLD"   envDefault:"3"`
	RetryBackoff      time.Duration `env:"SYNCBOARD_SYNC_RETRY_BACKOFF"       envDefault:"2s"`
	RebuildAfter      int           `env:"SYNCBOARD_SYNC_REBUILD_AFTER"       envDefault:"3"`
	ReconnectedWindow time.Duration `env:"SYNCBOARD_SYNC_RECONNECTED_WINDOW"  envDefault:"3s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch {
	case c.StoreDSN == "":
		return fmt.Errorf("SYNCBOARD_STORE_DSN must not be empty")
	case c.LogLimit < 1:
		return fmt.Errorf("SYNCBOARD_LOG_LIMIT must be positive, got %d", c.LogLimit)
	case c.HubBuffer < 1:
		return fmt.Errorf("SYNCBOARD_HUB_BUFFER must be positive, got %d", c.HubBuffer)
	case c.PingInterval <= 0 || c.ReadTimeout <= 0:
		return fmt.Errorf("websocket intervals must be positive")
	case c.ReadTimeout <= c.PingInterval:
		return fmt.Errorf("SYNCBOARD_WS_READ_TIMEOUT (%s) must exceed SYNCBOARD_WS_PING_INTERVAL (%s)", c.ReadTimeout, c.PingInterval)
	}
	return nil
}

// ClientConfig converts the settings for syncclient.New.
func (s Sync) ClientConfig() syncclient.Config {
	return syncclient.Config{
		ResolveTimeout:    s.ResolveTimeout,
		FetchTimeout:      s.FetchTimeout,
		Debounce:          s.Debounce,
		Cooldown:          s.Cooldown,
		FailureThreshold:  s.FailureThreshold,
		RetryBackoff:      s.RetryBackoff,
		RebuildAfter:      s.RebuildAfter,
		ReconnectedWindow: s.ReconnectedWindow,
	}
}
