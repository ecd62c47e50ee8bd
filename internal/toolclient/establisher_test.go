package toolclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/agentauth"
	"tableside/internal/oauth"
	pkgoauth "tableside/pkg/oauth"
)

// fakeClient is a scripted ToolClient for establisher tests.
type fakeClient struct {
	initErr    error
	callErr    error
	closeCount atomic.Int32
	lastToken  string
	tokens     TokenProvider
}

func (f *fakeClient) Initialize(ctx context.Context) error {
	if f.tokens != nil {
		f.lastToken = f.tokens.GetAccessToken(ctx)
	}
	return f.initErr
}

func (f *fakeClient) Close() error {
	f.closeCount.Add(1)
	return nil
}

func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return nil, nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{}, nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func newTestProvider(t *testing.T) *oauth.CredentialProvider {
	t.Helper()
	p, err := oauth.NewCredentialProvider("session-est", oauth.ClientConfig{
		ClientID:    "tableside-test",
		RedirectURI: "http://localhost:8090/oauth/callback",
	})
	require.NoError(t, err)
	return p
}

func newTestEstablisher(t *testing.T, client *fakeClient, agent *agentauth.Provider) *Establisher {
	t.Helper()
	e, err := NewEstablisher(EstablisherConfig{
		Endpoint:          "http://tools.example.com/mcp",
		AuthorizeEndpoint: "https://auth.example.com/oauth/authorize",
		Agent:             agent,
		NewClient: func(endpoint string, tokens TokenProvider) ToolClient {
			client.tokens = tokens
			return client
		},
	})
	require.NoError(t, err)
	return e
}

func TestConnectSuccess(t *testing.T) {
	client := &fakeClient{}
	e := newTestEstablisher(t, client, nil)
	provider := newTestProvider(t)

	connected, err := e.Connect(context.Background(), provider)
	require.NoError(t, err)
	require.NotNil(t, connected)

	_, pending := provider.PendingAuthorizationURL()
	assert.False(t, pending)
}

func TestConnectAuthRequired(t *testing.T) {
	client := &fakeClient{initErr: &UnauthorizedError{Err: fmt.Errorf("401 unauthorized")}}
	e := newTestEstablisher(t, client, nil)
	provider := newTestProvider(t)

	_, err := e.Connect(context.Background(), provider)
	require.Error(t, err)

	var oauthErr *OAuthRequiredError
	require.True(t, errors.As(err, &oauthErr))
	assert.NotEmpty(t, oauthErr.AuthorizationURL)

	pendingURL, pending := provider.PendingAuthorizationURL()
	require.True(t, pending)
	assert.Equal(t, oauthErr.AuthorizationURL, pendingURL)

	u, parseErr := url.Parse(oauthErr.AuthorizationURL)
	require.NoError(t, parseErr)
	assert.Equal(t, "session-est", u.Query().Get("state"))
	assert.Empty(t, u.Query().Get("requested_actor"))
}

func TestConnectGenuinelyDown(t *testing.T) {
	client := &fakeClient{initErr: fmt.Errorf("dial tcp: connection refused")}
	e := newTestEstablisher(t, client, nil)
	provider := newTestProvider(t)

	_, err := e.Connect(context.Background(), provider)
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "a non-auth handshake failure must surface as ConnectionError")

	var oauthErr *OAuthRequiredError
	assert.False(t, errors.As(err, &oauthErr))

	_, pending := provider.PendingAuthorizationURL()
	assert.False(t, pending, "connectivity failures must not park the session waiting for a callback")
}

func TestConnectUsesCurrentToken(t *testing.T) {
	client := &fakeClient{}
	e := newTestEstablisher(t, client, nil)
	provider := newTestProvider(t)

	provider.SaveTokens(&pkgoauth.Token{AccessToken: "at-live", TokenType: "Bearer", ExpiresIn: 3600})

	_, err := e.Connect(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, "at-live", client.lastToken)
}

func TestConnectRegeneratesPKCEPerAttempt(t *testing.T) {
	client := &fakeClient{initErr: &UnauthorizedError{Err: fmt.Errorf("401")}}
	e := newTestEstablisher(t, client, nil)
	provider := newTestProvider(t)

	_, err := e.Connect(context.Background(), provider)
	require.Error(t, err)
	first, _ := provider.PendingAuthorizationURL()

	_, err = e.Connect(context.Background(), provider)
	require.Error(t, err)
	second, _ := provider.PendingAuthorizationURL()

	firstURL, _ := url.Parse(first)
	secondURL, _ := url.Parse(second)
	assert.NotEqual(t, firstURL.Query().Get("code_challenge"), secondURL.Query().Get("code_challenge"))
}

// stubAgentServer answers the three-step agent login with a fixed token.
func stubAgentServer(t *testing.T, failLogin bool) *agentauth.Provider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		if failLogin {
			http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"flow_id":"flow-1"}`)
	})
	mux.HandleFunc("/authn", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"code-1"}`)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"agent-actor-token","token_type":"Bearer","expires_in":3600}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	agent, err := agentauth.NewProvider(agentauth.Config{
		AgentID:              "ordering-agent",
		AgentPassword:        "agent-secret",
		ClientID:             "tableside-test",
		AuthorizeEndpoint:    srv.URL + "/authorize",
		AuthenticateEndpoint: srv.URL + "/authn",
		TokenEndpoint:        srv.URL + "/token",
	})
	require.NoError(t, err)
	return agent
}

func TestConnectInjectsActorToken(t *testing.T) {
	client := &fakeClient{initErr: &UnauthorizedError{Err: fmt.Errorf("401")}}
	agent := stubAgentServer(t, false)
	e := newTestEstablisher(t, client, agent)
	provider := newTestProvider(t)

	_, err := e.Connect(context.Background(), provider)
	var oauthErr *OAuthRequiredError
	require.True(t, errors.As(err, &oauthErr))

	u, parseErr := url.Parse(oauthErr.AuthorizationURL)
	require.NoError(t, parseErr)
	assert.Equal(t, "agent-actor-token", u.Query().Get("requested_actor"))
}

func TestConnectAgentFailureIsBestEffort(t *testing.T) {
	client := &fakeClient{initErr: &UnauthorizedError{Err: fmt.Errorf("401")}}
	agent := stubAgentServer(t, true)
	e := newTestEstablisher(t, client, agent)
	provider := newTestProvider(t)

	_, err := e.Connect(context.Background(), provider)
	var oauthErr *OAuthRequiredError
	require.True(t, errors.As(err, &oauthErr), "agent login failure must degrade to an undelegated flow")

	u, parseErr := url.Parse(oauthErr.AuthorizationURL)
	require.NoError(t, parseErr)
	assert.Empty(t, u.Query().Get("requested_actor"))
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&UnauthorizedError{Err: fmt.Errorf("nope")}))
	assert.True(t, IsAuthError(fmt.Errorf("request failed: 401 Unauthorized")))
	assert.True(t, IsAuthError(fmt.Errorf("token expired")))
	assert.False(t, IsAuthError(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsAuthError(nil))
}
