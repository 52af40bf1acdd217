package mcp

import (
	"strings"
	"time"
)

// Config describes where a Handler is mounted and how it presents itself to clients.
type Config struct {
	// BasePath is the path the handler is mounted at. It is normalized to start with "/"
	// and never end with one; "/" mounts at the root. Empty means DefaultBasePath.
	BasePath string `koanf:"base_path"`
	// Name and Version are reported to clients during initialization.
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	// Debug adds error details to 500 responses and connection hints to the logs.
	Debug bool `koanf:"debug"`
	// KeepAliveInterval is how often idle streams get a keepalive comment.
	KeepAliveInterval time.Duration `koanf:"keepalive_interval"`
}

// Defaults applied by NewHandler.
const (
	DefaultBasePath = "/mcp"
	DefaultName     = "mcp-server"
	DefaultVersion  = "1.0.0"
)

// NormalizeBasePath adds a leading "/" to p and removes trailing ones. The root path
// normalizes to "", so sub-paths can be appended directly.
func NormalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (c Config) withDefaults() Config {
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	c.BasePath = NormalizeBasePath(c.BasePath)
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	return c
}
