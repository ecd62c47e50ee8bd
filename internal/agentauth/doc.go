// Package agentauth implements the agent identity provider: a process-wide,
// non-interactive login that obtains a bearer token representing the service
// itself, independent of any end user.
//
// The login is a three-step direct-response flow against the authorization
// server: an authorization request in direct-response mode yields a flow
// identifier, agent credentials submitted against that flow yield an
// authorization code, and the code is redeemed at the token endpoint with
// the provider's own PKCE pair.
//
// The resulting token is injected into per-session user authorization URLs
// as the requested_actor parameter, signalling delegation. Acquisition is
// coalesced: concurrent callers share one in-flight login, and cached tokens
// are treated as expired 60 seconds before their nominal expiry.
package agentauth
