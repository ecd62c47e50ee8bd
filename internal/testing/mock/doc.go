// Package mock provides a mock OAuth 2.0 authorization server for
// integration testing and local development.
//
// The server implements the two flows the assistant depends on:
//
//   - The browser-based authorization code flow with PKCE, used by diners
//     to authorize a session. /authorize either renders an approval page
//     or, with AutoApprove, redirects straight back with a code.
//
//   - The direct-response login flow, used by the assistant to obtain its
//     own agent identity without a browser: /authorize with
//     response_mode=direct returns a flow id, /authn accepts agent
//     credentials against that flow, and /token exchanges the resulting
//     code.
//
// Tokens are opaque random strings tracked in memory. ValidateToken lets
// a protected backend check bearer tokens against the same server.
package mock
