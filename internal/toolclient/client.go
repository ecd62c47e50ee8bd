package toolclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolClient is the connection handle to the remote ordering tool server.
// Implementations must tolerate double-close as a no-op.
type ToolClient interface {
	// Initialize establishes the connection and performs protocol handshake.
	Initialize(ctx context.Context) error
	// Close cleanly shuts down the connection.
	Close() error
	// ListTools returns all tools offered by the server.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes a tool and returns its result.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// Ping checks whether the server is responsive.
	Ping(ctx context.Context) error
}

// TokenProvider supplies the current bearer token for a connection attempt.
// Returning an empty string means the connection is made unauthenticated.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) string
}

// TokenProviderFunc adapts a function to the TokenProvider interface.
type TokenProviderFunc func(ctx context.Context) string

func (f TokenProviderFunc) GetAccessToken(ctx context.Context) string {
	return f(ctx)
}

// Compile-time interface compliance checks
var (
	_ ToolClient = (*StreamableHTTPClient)(nil)
	_ ToolClient = (*LoggingClient)(nil)
)

// baseClient provides the shared MCP operations common to all transports.
type baseClient struct {
	client    client.MCPClient
	mu        sync.RWMutex
	connected bool
}

// checkConnected verifies the client is connected. Caller must hold at
// least a read lock on mu.
func (b *baseClient) checkConnected() error {
	if !b.connected || b.client == nil {
		return fmt.Errorf("client not connected")
	}
	return nil
}

// closeClient performs the common close logic; closing an already-closed
// client is a no-op.
func (b *baseClient) closeClient() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}

	err := b.client.Close()
	b.connected = false
	b.client = nil

	return err
}

func (b *baseClient) listTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	return result.Tools, nil
}

func (b *baseClient) callTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		if IsAuthError(err) {
			return nil, &UnauthorizedError{Err: err}
		}
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	return result, nil
}

func (b *baseClient) ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return err
	}

	return b.client.Ping(ctx)
}
