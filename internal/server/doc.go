// Package server provides the assistant's HTTP surface.
//
// It exposes the chat API diners talk to, the OAuth callback the
// authorization server redirects back to, and a small session
// introspection API for operators:
//
//	POST   /api/chat            send a message within a session
//	GET    /oauth/callback      completes a session's authorization
//	GET    /api/sessions        list active sessions
//	DELETE /api/sessions/{id}   evict one session
//	GET    /healthz             liveness probe
//
// The chat endpoint never leaks backend failure detail to diners; error
// classification happens in the conversation orchestrator and only
// user-safe text crosses this boundary.
package server
