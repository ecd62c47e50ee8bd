package config

import (
	"time"

	"tableside/internal/engine/anthropic"
)

// Config is the top-level configuration structure for tableside.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	OAuth    OAuthConfig      `yaml:"oauth"`
	Agent    AgentConfig      `yaml:"agent"`
	Engine   anthropic.Config `yaml:"engine"`
	Backend  BackendConfig    `yaml:"backend"`
	Sessions SessionConfig    `yaml:"sessions"`

	// Development relaxes user-facing error redaction: raw error detail
	// is included in chat replies to speed up local debugging.
	Development bool `yaml:"development,omitempty"`
}

// ServerConfig defines the HTTP surface the assistant listens on.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port for the chat API (default: 8080)

	// CallbackPath is the path diners are redirected back to after
	// authorizing (default: /oauth/callback).
	CallbackPath string `yaml:"callbackPath,omitempty"`
}

// OAuthConfig defines the authorization server the per-session
// authorization code flow runs against.
type OAuthConfig struct {
	ClientID          string `yaml:"clientId"`
	ClientSecret      string `yaml:"clientSecret,omitempty"`
	AuthorizeEndpoint string `yaml:"authorizeEndpoint"`
	TokenEndpoint     string `yaml:"tokenEndpoint"`

	// RedirectURI is the absolute callback URL registered with the
	// authorization server. Derived from server host/port and
	// CallbackPath when empty.
	RedirectURI string `yaml:"redirectUri,omitempty"`

	// UserinfoEndpoint validates access tokens. The embedded backend
	// uses it to check the bearer tokens it receives; when empty, the
	// embedded backend runs unprotected (development only).
	UserinfoEndpoint string `yaml:"userinfoEndpoint,omitempty"`

	Scope string `yaml:"scope,omitempty"`
}

// AgentConfig defines the assistant's own identity at the authorization
// server, used for the non-interactive direct-response login and for
// delegation on diner authorization requests.
type AgentConfig struct {
	ID       string `yaml:"id,omitempty"`
	Password string `yaml:"password,omitempty"`

	// AuthenticateEndpoint accepts credential submissions during the
	// direct-response login. Authorize and token endpoints are shared
	// with the oauth section.
	AuthenticateEndpoint string `yaml:"authenticateEndpoint,omitempty"`

	// Required makes a failed agent login fatal for connection attempts
	// instead of degrading to an undelegated flow.
	Required bool `yaml:"required,omitempty"`
}

// BackendConfig defines the restaurant ordering backend.
type BackendConfig struct {
	// Endpoint is the MCP tool server URL. When empty, the embedded
	// backend is served on its own port and used directly.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Port for the embedded backend tool server (default: 8091).
	Port int `yaml:"port,omitempty"`

	// MenuPath is the YAML menu file for the embedded backend
	// (default: menu.yaml).
	MenuPath string `yaml:"menuPath,omitempty"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idleTimeout,omitempty"`
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty"`
	MaxSessions   int           `yaml:"maxSessions,omitempty"`
}
