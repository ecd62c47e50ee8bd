// Package conversation implements the orchestrator between the chat surface
// and the session layer: it resolves sessions, drives connection
// establishment, forwards messages through the completion engine's tool
// loop, and converts every failure below it into a user-safe Reply. The
// authorization callback entry point redeems codes and rebuilds the
// session's tool connection.
package conversation
