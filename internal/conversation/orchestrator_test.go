package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/engine"
	"tableside/internal/oauth"
	"tableside/internal/session"
	"tableside/internal/toolclient"
)

// fixture wires an orchestrator to scripted transport and engine layers.
type fixture struct {
	orchestrator *Orchestrator
	manager      *session.Manager

	mu            sync.Mutex
	handshakeErr  error
	toolCallErr   error
	completeErr   error
	completeText  string
	exchangeCount atomic.Int32
	completeCount atomic.Int32
	tokenSrv      *httptest.Server
	clients       []*fixtureClient
}

type fixtureClient struct {
	f          *fixture
	closeCount atomic.Int32
}

func (c *fixtureClient) Initialize(ctx context.Context) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.handshakeErr
}

func (c *fixtureClient) Close() error {
	c.closeCount.Add(1)
	return nil
}

func (c *fixtureClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{mcp.NewTool("menu_list", mcp.WithDescription("List menu items"))}, nil
}

func (c *fixtureClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	c.f.mu.Lock()
	err := c.f.toolCallErr
	c.f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "[]"}},
	}, nil
}

func (c *fixtureClient) Ping(ctx context.Context) error { return nil }

// fixtureProvider answers with the fixture's scripted completion. The first
// call per turn may request a tool; subsequent calls answer in text.
type fixtureProvider struct {
	f *fixture
}

func (p *fixtureProvider) Complete(ctx context.Context, req engine.CompletionRequest) (engine.CompletionResponse, error) {
	p.f.completeCount.Add(1)
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if p.f.completeErr != nil {
		return engine.CompletionResponse{}, p.f.completeErr
	}
	// Request one tool round when the last message is from the user.
	last := req.Messages[len(req.Messages)-1]
	if last.Role == engine.MessageRoleUser && p.f.toolCallErr != nil {
		return engine.CompletionResponse{
			ToolCalls: []engine.ToolCall{{ID: "tc-1", Name: "menu_list", Arguments: json.RawMessage(`{}`)}},
		}, nil
	}
	return engine.CompletionResponse{Content: p.f.completeText}, nil
}

func (p *fixtureProvider) ModelName() string { return "fixture" }

func newFixture(t *testing.T, requireAuth bool) *fixture {
	t.Helper()

	f := &fixture{completeText: "Here is the menu."}
	if requireAuth {
		f.handshakeErr = &toolclient.UnauthorizedError{Err: fmt.Errorf("401 unauthorized")}
	}

	// Token endpoint that accepts any code once.
	redeemed := make(map[string]bool)
	var redeemedMu sync.Mutex
	f.tokenSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		code := r.FormValue("code")
		redeemedMu.Lock()
		done := redeemed[code]
		redeemed[code] = true
		redeemedMu.Unlock()
		if done || code == "bad-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		f.exchangeCount.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-" + code,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(f.tokenSrv.Close)

	establisher, err := toolclient.NewEstablisher(toolclient.EstablisherConfig{
		Endpoint:          "http://tools.example.com/mcp",
		AuthorizeEndpoint: "https://auth.example.com/oauth/authorize",
		NewClient: func(endpoint string, tokens toolclient.TokenProvider) toolclient.ToolClient {
			client := &fixtureClient{f: f}
			f.mu.Lock()
			f.clients = append(f.clients, client)
			f.mu.Unlock()
			return client
		},
	})
	require.NoError(t, err)

	manager, err := session.NewManager(session.ManagerConfig{
		Establisher: establisher,
		Credentials: oauth.ClientConfig{
			ClientID:    "tableside-test",
			RedirectURI: "http://localhost:8090/oauth/callback",
		},
	})
	require.NoError(t, err)
	t.Cleanup(manager.Destroy)

	loop := engine.NewLoop(&fixtureProvider{f: f}, engine.LoopConfig{SystemPrompt: "You are a waiter."})

	orchestrator, err := NewOrchestrator(Config{TokenEndpoint: f.tokenSrv.URL}, manager, loop)
	require.NoError(t, err)

	f.orchestrator = orchestrator
	f.manager = manager
	return f
}

func (f *fixture) setHandshakeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshakeErr = err
}

func (f *fixture) setToolCallErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCallErr = err
}

func (f *fixture) setCompleteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeErr = err
}

func TestHandleMessageAuthorizationRequired(t *testing.T) {
	f := newFixture(t, true)

	reply, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
	require.NoError(t, err)

	assert.True(t, reply.AuthorizationRequired)
	assert.NotEmpty(t, reply.AuthorizationURL)
	assert.NotEmpty(t, reply.Text)

	s, ok := f.manager.Get("abc")
	require.True(t, ok)
	assert.Equal(t, session.StateOAuthPending, s.State())
}

func TestHandleMessageHappyPath(t *testing.T) {
	f := newFixture(t, false)

	reply, err := f.orchestrator.HandleMessage(context.Background(), "abc", "menu please")
	require.NoError(t, err)
	assert.False(t, reply.AuthorizationRequired)
	assert.Equal(t, "Here is the menu.", reply.Text)

	s, ok := f.manager.Get("abc")
	require.True(t, ok)
	assert.Equal(t, session.StateAuthenticated, s.State())
}

func TestHandleMessageBackendDown(t *testing.T) {
	f := newFixture(t, false)
	f.setHandshakeErr(fmt.Errorf("dial tcp: connection refused"))

	reply, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
	require.NoError(t, err)
	assert.False(t, reply.AuthorizationRequired, "a down backend must not demand authorization")
	assert.Equal(t, msgBackendUnavailable, reply.Text)

	s, ok := f.manager.Get("abc")
	require.True(t, ok)
	assert.Equal(t, session.StateUninitialized, s.State())
}

func TestCompleteAuthorizationFlow(t *testing.T) {
	f := newFixture(t, true)

	// First message parks the session pending authorization.
	reply, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
	require.NoError(t, err)
	require.True(t, reply.AuthorizationRequired)

	// The backend accepts the connection once tokens exist.
	f.setHandshakeErr(nil)

	result, err := f.orchestrator.CompleteAuthorization(context.Background(), "c1", "abc", "")
	require.NoError(t, err)
	assert.True(t, result.Authenticated)
	assert.Equal(t, "abc", result.SessionID)
	assert.Equal(t, int32(1), f.exchangeCount.Load(), "the code must be redeemed exactly once")

	s, ok := f.manager.Get("abc")
	require.True(t, ok)
	assert.Equal(t, session.StateAuthenticated, s.State())
	assert.NotNil(t, s.Client(), "the callback must rebuild the tool connection")

	// A subsequent message reaches the engine without re-triggering auth.
	before := f.completeCount.Load()
	reply, err = f.orchestrator.HandleMessage(context.Background(), "abc", "hi")
	require.NoError(t, err)
	assert.False(t, reply.AuthorizationRequired)
	assert.Greater(t, f.completeCount.Load(), before)
}

func TestCompleteAuthorizationValidation(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.orchestrator.CompleteAuthorization(context.Background(), "c1", "", "")
	assert.Error(t, err)

	_, err = f.orchestrator.CompleteAuthorization(context.Background(), "", "abc", "")
	assert.Error(t, err)

	_, err = f.orchestrator.CompleteAuthorization(context.Background(), "c1", "never-created", "")
	var notFound *session.SessionNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCompleteAuthorizationDenied(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
	require.NoError(t, err)

	s, _ := f.manager.Get("abc")
	_, pending := s.Provider().PendingAuthorizationURL()
	require.True(t, pending)

	_, err = f.orchestrator.CompleteAuthorization(context.Background(), "", "abc", "access_denied")
	require.Error(t, err)

	// The stale URL is cleared; the session stays pending for a retry.
	_, pending = s.Provider().PendingAuthorizationURL()
	assert.False(t, pending)
	assert.Equal(t, session.StateOAuthPending, s.State())
}

func TestCompleteAuthorizationExchangeFailure(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteAuthorization(context.Background(), "bad-code", "abc", "")
	require.Error(t, err)

	var exchErr *oauth.TokenExchangeError
	assert.ErrorAs(t, err, &exchErr)

	s, _ := f.manager.Get("abc")
	assert.Equal(t, session.StateOAuthPending, s.State())
	_, pending := s.Provider().PendingAuthorizationURL()
	assert.False(t, pending, "a failed exchange must clear the pending URL to force a fresh attempt")
}

func TestMidConversation401Regression(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
	require.NoError(t, err)

	s, _ := f.manager.Get("abc")
	require.Equal(t, session.StateAuthenticated, s.State())
	f.mu.Lock()
	stale := f.clients[len(f.clients)-1]
	f.mu.Unlock()

	// Tool calls now fail with 401 and reconnects demand authorization.
	f.setToolCallErr(&toolclient.UnauthorizedError{Err: fmt.Errorf("token expired")})
	f.setHandshakeErr(&toolclient.UnauthorizedError{Err: fmt.Errorf("401 unauthorized")})

	reply, err := f.orchestrator.HandleMessage(context.Background(), "abc", "add pizza")
	require.NoError(t, err)
	assert.True(t, reply.AuthorizationRequired)
	assert.NotEmpty(t, reply.AuthorizationURL)

	assert.Equal(t, session.StateOAuthPending, s.State())
	assert.False(t, s.Provider().HasValidTokens(), "credentials must be invalidated on 401")
	assert.Equal(t, int32(1), stale.closeCount.Load(), "the stale client must be closed exactly once")
}

func TestEngineFailureClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"rate limit", fmt.Errorf("%w: slow down", engine.ErrRateLimit), msgRateLimited},
		{"overloaded", fmt.Errorf("%w: 529", engine.ErrOverloaded), msgOverloaded},
		{"bad request", fmt.Errorf("%w: nope", engine.ErrBadRequest), msgGenericFailure},
		{"unknown", fmt.Errorf("boom"), msgGenericFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.setCompleteErr(tc.err)

			reply, err := f.orchestrator.HandleMessage(context.Background(), "abc", "hello")
			require.NoError(t, err)
			assert.Equal(t, tc.want, reply.Text)
			assert.False(t, reply.AuthorizationRequired)
		})
	}
}

func TestHistoryCarriedAcrossTurns(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.orchestrator.HandleMessage(context.Background(), "abc", "first")
	require.NoError(t, err)
	_, err = f.orchestrator.HandleMessage(context.Background(), "abc", "second")
	require.NoError(t, err)

	history := f.orchestrator.history.Get("abc")
	require.Len(t, history, 4)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[2].Content)

	f.orchestrator.ForgetSession("abc")
	assert.Empty(t, f.orchestrator.history.Get("abc"))
}
