package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgoauth "tableside/pkg/oauth"
)

func startAuthServer(t *testing.T, config AuthServerConfig) *AuthServer {
	t.Helper()
	server := NewAuthServer(config)
	_, err := server.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Stop(context.Background())
	})
	return server
}

// noRedirectClient returns redirects to the caller instead of following them,
// so tests can inspect the authorization callback.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestAuthServerStartStop(t *testing.T) {
	server := NewAuthServer(AuthServerConfig{})

	port, err := server.Start(context.Background())
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.True(t, server.IsRunning())

	// Starting twice is a no-op returning the same port.
	again, err := server.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, again)

	require.NoError(t, server.Stop(context.Background()))
	assert.False(t, server.IsRunning())
	require.NoError(t, server.Stop(context.Background()))
}

func TestAuthServerMetadata(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{})

	resp, err := http.Get(server.IssuerURL() + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var metadata map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
	assert.Equal(t, server.IssuerURL(), metadata["issuer"])
	assert.Equal(t, server.TokenURL(), metadata["token_endpoint"])
	assert.Contains(t, metadata["response_modes_supported"], "direct")
}

func TestAuthorizationCodeFlowWithPKCE(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{
		ClientID:     "tableside",
		AutoApprove:  true,
		PKCERequired: true,
	})

	pkce, err := pkgoauth.GeneratePKCE()
	require.NoError(t, err)

	authorizeURL := server.AuthorizeURL() + "?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {"tableside"},
		"redirect_uri":          {"http://localhost:8080/oauth/callback"},
		"state":                 {"session-abc"},
		"scope":                 {"ordering"},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.CodeChallengeMethod},
	}.Encode()

	resp, err := noRedirectClient().Get(authorizeURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "session-abc", location.Query().Get("state"))

	// Exchange the code with the matching verifier.
	tokenResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"tableside"},
		"code_verifier": {pkce.CodeVerifier},
	})
	require.NoError(t, err)
	defer tokenResp.Body.Close()
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)

	var token TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&token))
	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.True(t, server.ValidateToken(token.AccessToken))

	// Replaying the code fails.
	replay, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"tableside"},
		"code_verifier": {pkce.CodeVerifier},
	})
	require.NoError(t, err)
	replay.Body.Close()
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)
}

func TestAuthorizationRejectsWrongVerifier(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{AutoApprove: true})

	pkce, err := pkgoauth.GeneratePKCE()
	require.NoError(t, err)

	resp, err := noRedirectClient().Get(server.AuthorizeURL() + "?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {"test-client"},
		"redirect_uri":          {"http://localhost:8080/cb"},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {"S256"},
	}.Encode())
	require.NoError(t, err)
	resp.Body.Close()

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	tokenResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {location.Query().Get("code")},
		"client_id":     {"test-client"},
		"code_verifier": {"not-the-right-verifier-at-all-0000000000000"},
	})
	require.NoError(t, err)
	defer tokenResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, tokenResp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&body))
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestAuthorizeValidation(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{
		ClientID:     "tableside",
		PKCERequired: true,
	})

	tests := []struct {
		name   string
		params url.Values
	}{
		{
			name: "wrong response type",
			params: url.Values{
				"response_type": {"token"},
				"client_id":     {"tableside"},
			},
		},
		{
			name: "unknown client",
			params: url.Values{
				"response_type": {"code"},
				"client_id":     {"intruder"},
			},
		},
		{
			name: "missing pkce",
			params: url.Values{
				"response_type": {"code"},
				"client_id":     {"tableside"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.AuthorizeURL() + "?" + tt.params.Encode())
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestDirectLoginFlow(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{
		ClientID:      "tableside",
		AgentID:       "table-agent",
		AgentPassword: "agent-secret",
	})

	pkce, err := pkgoauth.GeneratePKCE()
	require.NoError(t, err)

	// Step 1: direct-response authorize returns a flow id.
	resp, err := http.PostForm(server.AuthorizeURL(), url.Values{
		"response_type":         {"code"},
		"response_mode":         {"direct"},
		"client_id":             {"tableside"},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.CodeChallengeMethod},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var flow struct {
		FlowID string `json:"flow_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flow))
	require.NotEmpty(t, flow.FlowID)

	// Step 2: agent credentials redeem the flow for a code.
	authnResp, err := http.PostForm(server.AuthenticateURL(), url.Values{
		"flow_id":  {flow.FlowID},
		"agent_id": {"table-agent"},
		"password": {"agent-secret"},
	})
	require.NoError(t, err)
	defer authnResp.Body.Close()
	require.Equal(t, http.StatusOK, authnResp.StatusCode)

	var authn struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(authnResp.Body).Decode(&authn))
	require.NotEmpty(t, authn.Code)

	// Step 3: exchange with the same PKCE verifier.
	tokenResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {authn.Code},
		"client_id":     {"tableside"},
		"code_verifier": {pkce.CodeVerifier},
	})
	require.NoError(t, err)
	defer tokenResp.Body.Close()
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)

	var token TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&token))
	assert.True(t, server.ValidateToken(token.AccessToken))
}

func TestDirectLoginRejectsBadCredentials(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{
		AgentID:       "table-agent",
		AgentPassword: "agent-secret",
	})

	resp, err := http.PostForm(server.AuthorizeURL(), url.Values{
		"response_type": {"code"},
		"response_mode": {"direct"},
		"client_id":     {"test-client"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	var flow struct {
		FlowID string `json:"flow_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flow))

	authnResp, err := http.PostForm(server.AuthenticateURL(), url.Values{
		"flow_id":  {flow.FlowID},
		"agent_id": {"table-agent"},
		"password": {"wrong"},
	})
	require.NoError(t, err)
	authnResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, authnResp.StatusCode)

	// The flow is consumed even on failure.
	retry, err := http.PostForm(server.AuthenticateURL(), url.Values{
		"flow_id":  {flow.FlowID},
		"agent_id": {"table-agent"},
		"password": {"agent-secret"},
	})
	require.NoError(t, err)
	retry.Body.Close()
	assert.Equal(t, http.StatusBadRequest, retry.StatusCode)
}

func TestRequestedActorDelegation(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{
		ClientID:      "tableside",
		AgentID:       "table-agent",
		AgentPassword: "agent-secret",
		AutoApprove:   true,
	})

	// Obtain an agent token via the direct flow first.
	resp, err := http.PostForm(server.AuthorizeURL(), url.Values{
		"response_type": {"code"},
		"response_mode": {"direct"},
		"client_id":     {"tableside"},
	})
	require.NoError(t, err)
	var flow struct {
		FlowID string `json:"flow_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flow))
	resp.Body.Close()

	authnResp, err := http.PostForm(server.AuthenticateURL(), url.Values{
		"flow_id":  {flow.FlowID},
		"agent_id": {"table-agent"},
		"password": {"agent-secret"},
	})
	require.NoError(t, err)
	var authn struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(authnResp.Body).Decode(&authn))
	authnResp.Body.Close()

	tokenResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type": {"authorization_code"},
		"code":       {authn.Code},
		"client_id":  {"tableside"},
	})
	require.NoError(t, err)
	var agentToken TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&agentToken))
	tokenResp.Body.Close()

	// A diner authorization carrying the agent token records the delegation.
	authResp, err := noRedirectClient().Get(server.AuthorizeURL() + "?" + url.Values{
		"response_type":   {"code"},
		"client_id":       {"tableside"},
		"redirect_uri":    {"http://localhost:8080/cb"},
		"requested_actor": {agentToken.AccessToken},
	}.Encode())
	require.NoError(t, err)
	authResp.Body.Close()
	require.Equal(t, http.StatusFound, authResp.StatusCode)

	location, err := url.Parse(authResp.Header.Get("Location"))
	require.NoError(t, err)

	dinerResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type": {"authorization_code"},
		"code":       {location.Query().Get("code")},
		"client_id":  {"tableside"},
	})
	require.NoError(t, err)
	var dinerToken TokenResponse
	require.NoError(t, json.NewDecoder(dinerResp.Body).Decode(&dinerToken))
	dinerResp.Body.Close()

	assert.Equal(t, "table-agent", server.TokenActor(dinerToken.AccessToken))

	// An unknown actor token is rejected outright.
	rejected, err := http.Get(server.AuthorizeURL() + "?" + url.Values{
		"response_type":   {"code"},
		"client_id":       {"tableside"},
		"redirect_uri":    {"http://localhost:8080/cb"},
		"requested_actor": {"bogus-token"},
	}.Encode())
	require.NoError(t, err)
	rejected.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
}

func TestTokenExpiryWithMockClock(t *testing.T) {
	clock := NewMockClock(time.Now())
	server := startAuthServer(t, AuthServerConfig{
		AutoApprove:   true,
		TokenLifetime: 1 * time.Hour,
		Clock:         clock,
	})

	resp, err := noRedirectClient().Get(server.AuthorizeURL() + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"test-client"},
		"redirect_uri":  {"http://localhost:8080/cb"},
	}.Encode())
	require.NoError(t, err)
	resp.Body.Close()

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	tokenResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type": {"authorization_code"},
		"code":       {location.Query().Get("code")},
		"client_id":  {"test-client"},
	})
	require.NoError(t, err)
	var token TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&token))
	tokenResp.Body.Close()

	assert.True(t, server.ValidateToken(token.AccessToken))

	clock.Advance(2 * time.Hour)
	assert.False(t, server.ValidateToken(token.AccessToken))
}

func TestRevokeTokens(t *testing.T) {
	server := startAuthServer(t, AuthServerConfig{AutoApprove: true})

	resp, err := noRedirectClient().Get(server.AuthorizeURL() + "?" + url.Values{
		"response_type": {"code"},
		"client_id":     {"test-client"},
		"redirect_uri":  {"http://localhost:8080/cb"},
	}.Encode())
	require.NoError(t, err)
	resp.Body.Close()

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	tokenResp, err := http.PostForm(server.TokenURL(), url.Values{
		"grant_type": {"authorization_code"},
		"code":       {location.Query().Get("code")},
		"client_id":  {"test-client"},
	})
	require.NoError(t, err)
	var token TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&token))
	tokenResp.Body.Close()

	require.True(t, server.ValidateToken(token.AccessToken))
	assert.True(t, server.RevokeToken(token.AccessToken))
	assert.False(t, server.ValidateToken(token.AccessToken))
	assert.False(t, server.RevokeToken(token.AccessToken))
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearerToken("Bearer abc"))
	assert.Empty(t, ExtractBearerToken(""))
	assert.Empty(t, ExtractBearerToken("Basic abc"))
	assert.Empty(t, ExtractBearerToken("Bearer"))
}
