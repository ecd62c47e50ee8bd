// Package app bootstraps and runs the assistant.
//
// It follows a two-phase pattern: NewApplication loads configuration,
// initializes logging, and wires the component graph (backend, agent
// identity, connection establisher, session manager, engine, orchestrator,
// HTTP server); Run starts the servers and blocks until the context is
// canceled or a termination signal arrives, then shuts everything down
// in reverse order.
package app
