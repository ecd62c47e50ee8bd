package toolclient

import (
	"context"
	"errors"
	"fmt"

	"tableside/internal/agentauth"
	"tableside/internal/oauth"
	"tableside/pkg/logging"
)

// EstablisherConfig configures the connection establisher.
type EstablisherConfig struct {
	// Endpoint is the tool server URL.
	Endpoint string

	// AuthorizeEndpoint is the authorization server's interactive
	// authorization URL, used to build the URL surfaced to users.
	AuthorizeEndpoint string

	// Agent is the optional agent identity provider. When set, its token is
	// injected into user authorization URLs as the requested_actor
	// parameter.
	Agent *agentauth.Provider

	// NewClient overrides tool client construction, for tests.
	NewClient func(endpoint string, tokens TokenProvider) ToolClient
}

// Establisher opens tool-protocol connections using a session's credential
// provider and classifies handshake failures as either authorization
// required or genuine connectivity errors.
type Establisher struct {
	config EstablisherConfig
}

// NewEstablisher creates a connection establisher.
func NewEstablisher(cfg EstablisherConfig) (*Establisher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tool server endpoint cannot be empty")
	}
	if cfg.NewClient == nil {
		cfg.NewClient = func(endpoint string, tokens TokenProvider) ToolClient {
			return NewStreamableHTTPClient(endpoint, tokens)
		}
	}
	return &Establisher{config: cfg}, nil
}

// Connect attempts to open a connection to the tool server using the given
// credential provider. On success the connected client is returned, wrapped
// with logging. On an authorization-class handshake failure it records a
// fresh authorization URL on the provider and returns *OAuthRequiredError.
// Anything else returns *ConnectionError — a genuine connectivity failure
// has no authorization URL to offer and must not park the session waiting
// for a callback that will never come.
func (e *Establisher) Connect(ctx context.Context, provider *oauth.CredentialProvider) (ToolClient, error) {
	sessionKey := provider.AuthorizationState()

	tokens := TokenProviderFunc(func(ctx context.Context) string {
		if t := provider.CurrentTokens(); t != nil && !t.IsExpired() {
			return t.AccessToken
		}
		return ""
	})

	client := NewLoggingClient(e.config.NewClient(e.config.Endpoint, tokens), sessionKey)

	err := client.Initialize(ctx)
	if err == nil {
		logging.Info("Establisher", "Connected to tool server for session %s",
			logging.TruncateSessionID(sessionKey))
		return client, nil
	}

	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) && !IsAuthError(err) {
		return nil, &ConnectionError{Endpoint: e.config.Endpoint, Err: err}
	}

	authURL, buildErr := e.buildAuthorizationURL(ctx, provider)
	if buildErr != nil {
		return nil, &ConnectionError{Endpoint: e.config.Endpoint, Err: buildErr}
	}

	provider.RecordPendingAuthorization(authURL)
	logging.Info("Establisher", "Authorization required for session %s",
		logging.TruncateSessionID(sessionKey))

	return nil, &OAuthRequiredError{Endpoint: e.config.Endpoint, AuthorizationURL: authURL}
}

// buildAuthorizationURL regenerates the provider's PKCE pair and builds a
// fresh authorization URL for it, attaching the agent identity token as the
// actor parameter when one is available. A fresh PKCE pair per attempt keeps
// a stale verifier from being offered against a new authorization request.
func (e *Establisher) buildAuthorizationURL(ctx context.Context, provider *oauth.CredentialProvider) (string, error) {
	if e.config.AuthorizeEndpoint == "" {
		return "", fmt.Errorf("tool server requires authorization but no authorize endpoint is configured")
	}

	if err := provider.RegeneratePKCE(); err != nil {
		return "", err
	}

	actorToken := ""
	if e.config.Agent != nil {
		token, err := e.config.Agent.Token(ctx)
		if err != nil {
			if e.config.Agent.Required() {
				return "", fmt.Errorf("agent identity is required but unavailable: %w", err)
			}
			// Delegation is best-effort: proceed without the actor token.
			logging.Warn("Establisher", "Proceeding without agent delegation: %v", err)
		} else {
			actorToken = token
		}
	}

	return provider.BuildAuthorizationURL(e.config.AuthorizeEndpoint, actorToken)
}
