package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tableside/pkg/logging"
)

// TokenValidator checks a bearer token presented to the tool server.
type TokenValidator interface {
	ValidateToken(token string) bool
}

// MCPServerConfig configures the ordering tool server.
type MCPServerConfig struct {
	// Name identifies the server in the MCP handshake.
	Name string

	// Version is reported in the MCP handshake.
	Version string

	// Validator, when set, protects the server: requests without a valid
	// bearer token get a 401 with a WWW-Authenticate challenge.
	Validator TokenValidator

	// Realm and AuthorizationURI fill the WWW-Authenticate challenge.
	Realm            string
	AuthorizationURI string
}

// MCPServer exposes the ordering store as MCP tools.
type MCPServer struct {
	config MCPServerConfig
	store  *Store
	mcp    *server.MCPServer
}

// NewMCPServer creates the ordering tool server and registers its tools.
func NewMCPServer(cfg MCPServerConfig, store *Store) *MCPServer {
	if cfg.Name == "" {
		cfg.Name = "tableside-ordering"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		config: cfg,
		store:  store,
		mcp:    mcpServer,
	}
	s.registerTools()
	return s
}

// Handler returns the streamable-HTTP handler for this server, wrapped with
// bearer protection when a validator is configured.
func (s *MCPServer) Handler() http.Handler {
	var handler http.Handler = server.NewStreamableHTTPServer(s.mcp)
	if s.config.Validator != nil {
		handler = &bearerMiddleware{
			next:             handler,
			validator:        s.config.Validator,
			realm:            s.config.Realm,
			authorizationURI: s.config.AuthorizationURI,
		}
	}
	return handler
}

func (s *MCPServer) registerTools() {
	s.mcp.AddTool(mcp.NewTool("menu_list",
		mcp.WithDescription("List available menu items, optionally filtered by category or a search query"),
		mcp.WithString("category",
			mcp.Description("Filter by category, e.g. mains, drinks, desserts"),
		),
		mcp.WithString("query",
			mcp.Description("Case-insensitive search over names, descriptions, and tags"),
		),
	), s.handleMenuList)

	s.mcp.AddTool(mcp.NewTool("menu_get",
		mcp.WithDescription("Get one menu item by id"),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("Menu item id"),
		),
	), s.handleMenuGet)

	s.mcp.AddTool(mcp.NewTool("cart_add",
		mcp.WithDescription("Add an item to the session's cart"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation session id"),
		),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("Menu item id to add"),
		),
		mcp.WithNumber("quantity",
			mcp.Description("How many to add, default 1"),
		),
	), s.handleCartAdd)

	s.mcp.AddTool(mcp.NewTool("cart_remove",
		mcp.WithDescription("Remove an item from the session's cart"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation session id"),
		),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("Menu item id to remove"),
		),
		mcp.WithNumber("quantity",
			mcp.Description("How many to remove, 0 removes the whole line"),
		),
	), s.handleCartRemove)

	s.mcp.AddTool(mcp.NewTool("cart_view",
		mcp.WithDescription("Show the session's current cart"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation session id"),
		),
	), s.handleCartView)

	s.mcp.AddTool(mcp.NewTool("order_place",
		mcp.WithDescription("Place an order from the session's cart"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation session id"),
		),
	), s.handleOrderPlace)

	s.mcp.AddTool(mcp.NewTool("order_status",
		mcp.WithDescription("Get the status of a placed order"),
		mcp.WithString("order_id",
			mcp.Required(),
			mcp.Description("Order id"),
		),
	), s.handleOrderStatus)

	s.mcp.AddTool(mcp.NewTool("order_list",
		mcp.WithDescription("List the session's orders, newest first"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation session id"),
		),
	), s.handleOrderList)
}

func (s *MCPServer) handleMenuList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	category, _ := args["category"].(string)
	query, _ := args["query"].(string)

	items := s.store.MenuItems(category, query)
	return jsonResult(items)
}

func (s *MCPServer) handleMenuGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	item, err := s.store.MenuItem(itemID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item)
}

func (s *MCPServer) handleCartAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	quantity := 1
	if raw, ok := request.GetArguments()["quantity"].(float64); ok {
		quantity = int(raw)
	}

	cart, err := s.store.AddToCart(sessionID, itemID, quantity)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cart)
}

func (s *MCPServer) handleCartRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	quantity := 0
	if raw, ok := request.GetArguments()["quantity"].(float64); ok {
		quantity = int(raw)
	}

	cart, err := s.store.RemoveFromCart(sessionID, itemID, quantity)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cart)
}

func (s *MCPServer) handleCartView(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.store.GetCart(sessionID))
}

func (s *MCPServer) handleOrderPlace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	order, err := s.store.PlaceOrder(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(order)
}

func (s *MCPServer) handleOrderStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, err := request.RequireString("order_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(order)
}

func (s *MCPServer) handleOrderList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.store.ListOrders(sessionID))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// bearerMiddleware rejects requests without a valid bearer token, sending a
// WWW-Authenticate challenge the client's auth layer can act on.
type bearerMiddleware struct {
	next             http.Handler
	validator        TokenValidator
	realm            string
	authorizationURI string
}

func (m *bearerMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		m.sendChallenge(w)
		return
	}

	token := strings.TrimPrefix(auth, "Bearer ")
	if !m.validator.ValidateToken(token) {
		logging.Debug("Backend", "Rejected invalid bearer token")
		m.sendChallenge(w)
		return
	}

	m.next.ServeHTTP(w, r)
}

func (m *bearerMiddleware) sendChallenge(w http.ResponseWriter) {
	challenge := `Bearer`
	if m.realm != "" {
		challenge += fmt.Sprintf(` realm=%q`, m.realm)
	}
	if m.authorizationURI != "" {
		challenge += fmt.Sprintf(`, authorization_uri=%q`, m.authorizationURI)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
