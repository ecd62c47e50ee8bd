package toolclient

import (
	"errors"
	"fmt"

	pkgoauth "tableside/pkg/oauth"
)

// OAuthRequiredError indicates that the tool server demanded interactive
// authorization. AuthorizationURL is where the user must be sent.
type OAuthRequiredError struct {
	Endpoint         string
	AuthorizationURL string
}

func (e *OAuthRequiredError) Error() string {
	return fmt.Sprintf("authorization required for %s", e.Endpoint)
}

// ConnectionError indicates a genuine connectivity failure: the tool server
// is unreachable or broke the handshake for a non-auth reason. It must never
// be conflated with OAuthRequiredError, which has a resolution path.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnauthorizedError indicates that an established connection was rejected
// mid-conversation with an authorization-class failure. The session's
// credentials must be invalidated and the client discarded.
type UnauthorizedError struct {
	Err error
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("tool server rejected credentials: %v", e.Err)
}

func (e *UnauthorizedError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an authorization-class failure: a typed
// UnauthorizedError, or a transport error carrying 401/unauthorized signals.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		return true
	}
	return pkgoauth.Is401Error(err)
}
