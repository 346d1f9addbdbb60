package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	perrors "github.com/jmgilman/go/errors"
)

// Config is read from FLASH_OFFLINE_* environment variables.
type Config struct {
	// Origin is the upstream server that hosts the app.
	Origin string `env:"ORIGIN" envDefault:"http://127.0.0.1:5173"`
	// Scope is the URL prefix the worker controls, relative to Origin.
	Scope string `env:"SCOPE" envDefault:"/"`
	// Listen is the address of the gateway.
	Listen string `env:"LISTEN" envDefault:"127.0.0.1:8930"`
	// Manifest is an optional YAML manifest; empty means the built-in one.
	Manifest string `env:"MANIFEST"`
	// DB is the bbolt file holding every cache partition.
	DB string `env:"DB"`
	// Socket is the control channel used by pages.
	Socket string `env:"SOCK"`
	// Timeout bounds one upstream request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	Debug   bool          `env:"DEBUG"`
}

// Load parses the environment and fills path defaults under
// ~/.cache/flash-offline.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FLASH_OFFLINE_"}); err != nil {
		return nil, perrors.Wrap(err, perrors.CodeInvalidConfig, "parse env")
	}
	if cfg.DB == "" {
		cfg.DB = filepath.Join(DefaultDir(), "cache.bbolt")
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocketPath()
	}
	if _, err := cfg.ScopeURL(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ScopeURL resolves Scope against Origin.
func (c *Config) ScopeURL() (*url.URL, error) {
	origin, err := url.Parse(c.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, perrors.Newf(perrors.CodeInvalidConfig, "origin %q is not an absolute URL", c.Origin)
	}
	scope, err := url.Parse(c.Scope)
	if err != nil {
		return nil, perrors.Wrapf(err, perrors.CodeInvalidConfig, "scope %q", c.Scope)
	}
	return origin.ResolveReference(scope), nil
}

// DefaultDir is where the database and socket live unless overridden.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "flash-offline")
}

// DefaultSocketPath honours FLASH_OFFLINE_SOCK, for callers that only need
// the socket.
func DefaultSocketPath() string {
	if s := os.Getenv("FLASH_OFFLINE_SOCK"); s != "" {
		return s
	}
	return filepath.Join(DefaultDir(), "control.sock")
}
