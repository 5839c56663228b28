// Package config loads the gateway's runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the full set of runtime settings. Every field has a default
// except the upstream credential and organization, which have no sensible
// fallback.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`

	// UpstreamURL is the fixed host the /api/github proxy relays to.
	UpstreamURL  string `env:"UPSTREAM_URL,default=https://api.github.com"`
	GitHubAPIURL string `env:"GITHUB_API_URL,default=https://api.github.com"`
	GitHubToken  string `env:"GITHUB_TOKEN"`
	GitHubOrg    string `env:"GITHUB_ORG,required"`

	SessionTTL           time.Duration `env:"SESSION_TTL,default=30m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL,default=5m"`
	EventRetention       int           `env:"EVENT_RETENTION,default=1000"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.EventRetention <= 0 {
		return nil, fmt.Errorf("EVENT_RETENTION must be positive, got %d", cfg.EventRetention)
	}
	return &cfg, nil
}
