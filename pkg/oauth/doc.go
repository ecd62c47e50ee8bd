// Package oauth provides the shared OAuth 2.1 primitives used by both the
// per-session credential providers and the agent identity provider: PKCE
// generation, the Token type with absolute expiry tracking, and
// WWW-Authenticate challenge parsing for distinguishing authorization
// failures from connectivity failures.
package oauth
