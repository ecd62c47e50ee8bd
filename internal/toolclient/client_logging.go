package toolclient

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"tableside/pkg/logging"
)

// LoggingClient decorates a ToolClient with debug logging around every
// operation. It wraps rather than subclasses so any transport gains logging
// without coupling to a base implementation.
type LoggingClient struct {
	inner      ToolClient
	sessionKey string
}

// NewLoggingClient wraps client with per-operation logging tagged with the
// owning session.
func NewLoggingClient(client ToolClient, sessionKey string) *LoggingClient {
	return &LoggingClient{inner: client, sessionKey: sessionKey}
}

func (c *LoggingClient) Initialize(ctx context.Context) error {
	start := time.Now()
	err := c.inner.Initialize(ctx)
	if err != nil {
		logging.Debug("ToolClient", "Initialize failed for session %s after %v: %v",
			logging.TruncateSessionID(c.sessionKey), time.Since(start), err)
		return err
	}
	logging.Debug("ToolClient", "Initialize completed for session %s in %v",
		logging.TruncateSessionID(c.sessionKey), time.Since(start))
	return nil
}

func (c *LoggingClient) Close() error {
	logging.Debug("ToolClient", "Closing client for session %s", logging.TruncateSessionID(c.sessionKey))
	return c.inner.Close()
}

func (c *LoggingClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	tools, err := c.inner.ListTools(ctx)
	if err != nil {
		logging.Debug("ToolClient", "ListTools failed for session %s: %v",
			logging.TruncateSessionID(c.sessionKey), err)
		return nil, err
	}
	logging.Debug("ToolClient", "ListTools returned %d tools for session %s",
		len(tools), logging.TruncateSessionID(c.sessionKey))
	return tools, nil
}

func (c *LoggingClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()
	result, err := c.inner.CallTool(ctx, name, args)
	if err != nil {
		logging.Debug("ToolClient", "CallTool %s failed for session %s after %v: %v",
			name, logging.TruncateSessionID(c.sessionKey), time.Since(start), err)
		return nil, err
	}
	logging.Debug("ToolClient", "CallTool %s completed for session %s in %v",
		name, logging.TruncateSessionID(c.sessionKey), time.Since(start))
	return result, nil
}

func (c *LoggingClient) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}
