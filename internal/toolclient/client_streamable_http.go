package toolclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"tableside/pkg/logging"
)

// StreamableHTTPClient implements ToolClient over the streamable-HTTP MCP
// transport. The bearer token is resolved from the TokenProvider at
// handshake time; a client is created per connection attempt and discarded
// on regression, so the token never needs to change mid-connection.
type StreamableHTTPClient struct {
	baseClient
	url        string
	tokens     TokenProvider
	httpClient *http.Client
}

// NewStreamableHTTPClient creates a streamable-HTTP tool client for the
// given endpoint. tokens may be nil for unauthenticated backends.
func NewStreamableHTTPClient(url string, tokens TokenProvider) *StreamableHTTPClient {
	return &StreamableHTTPClient{
		url:    url,
		tokens: tokens,
	}
}

// NewStreamableHTTPClientWithHTTPClient creates a streamable-HTTP tool
// client using a custom HTTP client, e.g. for custom TLS configuration.
func NewStreamableHTTPClientWithHTTPClient(url string, tokens TokenProvider, httpClient *http.Client) *StreamableHTTPClient {
	return &StreamableHTTPClient{
		url:        url,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// Initialize establishes the connection and performs protocol handshake.
func (c *StreamableHTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("ToolClient", "Creating streamable-HTTP client for URL: %s", c.url)

	var opts []transport.StreamableHTTPCOption
	if c.tokens != nil {
		if token := c.tokens.GetAccessToken(ctx); token != "" {
			opts = append(opts, transport.WithHTTPHeaders(map[string]string{
				"Authorization": "Bearer " + token,
			}))
		}
	}
	if c.httpClient != nil {
		opts = append(opts, transport.WithHTTPBasicClient(c.httpClient))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create streamable-HTTP client: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "tableside",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		mcpClient.Close()

		if IsAuthError(err) {
			logging.Debug("ToolClient", "Authentication required for URL: %s", c.url)
			return &UnauthorizedError{Err: err}
		}

		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("ToolClient", "Streamable-HTTP client initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// Close cleanly shuts down the client connection.
func (c *StreamableHTTPClient) Close() error {
	return c.closeClient()
}

// ListTools returns all tools offered by the server.
func (c *StreamableHTTPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a tool and returns its result.
func (c *StreamableHTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks whether the server is responsive.
func (c *StreamableHTTPClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
