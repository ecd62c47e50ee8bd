package config

import (
	"tableside/internal/session"
)

const (
	// DefaultOAuthCallbackPath is the default path for OAuth callbacks.
	DefaultOAuthCallbackPath = "/oauth/callback"

	// DefaultServerPort is the default chat API port.
	DefaultServerPort = 8080

	// DefaultBackendPort is the default embedded backend port.
	DefaultBackendPort = 8091

	// DefaultMenuPath is the default menu file for the embedded backend.
	DefaultMenuPath = "menu.yaml"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         DefaultServerPort,
			CallbackPath: DefaultOAuthCallbackPath,
		},
		Backend: BackendConfig{
			Port:     DefaultBackendPort,
			MenuPath: DefaultMenuPath,
		},
		Sessions: SessionConfig{
			IdleTimeout:   session.DefaultIdleTimeout,
			SweepInterval: session.DefaultSweepInterval,
			MaxSessions:   session.DefaultMaxSessions,
		},
	}
}
