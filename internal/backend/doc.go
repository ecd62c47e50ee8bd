// Package backend implements the ordering tool backend: an in-memory store
// of menu, carts, and orders, exposed both as agent-callable MCP tools over
// streamable HTTP and as a plain REST API. The menu is loaded from a YAML
// file and hot-reloaded on change. When bearer protection is configured,
// unauthenticated tool requests receive a 401 with a WWW-Authenticate
// challenge, which is what drives the conversation layer's authorization
// flow.
package backend
