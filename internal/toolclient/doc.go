// Package toolclient wraps the MCP transport to the remote ordering tool
// server. It provides the ToolClient interface, a streamable-HTTP
// implementation with bearer token injection, a logging decorator, and the
// connection establisher that turns handshake failures into one of two
// distinguishable outcomes: authorization required (with the URL the user
// must visit) or a genuine connectivity failure.
package toolclient
