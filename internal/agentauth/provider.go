package agentauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tableside/pkg/logging"
	pkgoauth "tableside/pkg/oauth"
)

// DefaultHTTPTimeout is the default timeout for authorization server requests.
const DefaultHTTPTimeout = 30 * time.Second

// Config configures the agent identity provider.
type Config struct {
	// AgentID and AgentPassword are the non-interactive service credentials.
	AgentID       string
	AgentPassword string

	// ClientID identifies the application to the authorization server.
	ClientID string

	// AuthorizeEndpoint accepts direct-response authorization requests.
	AuthorizeEndpoint string

	// AuthenticateEndpoint accepts credential submissions against a flow.
	AuthenticateEndpoint string

	// TokenEndpoint redeems authorization codes.
	TokenEndpoint string

	// Scope is the space-separated scope requested for the agent token.
	Scope string

	// Required makes a failed agent login fatal for connection attempts.
	// When false (the default), callers proceed without delegation.
	Required bool

	// HTTPClient overrides the HTTP client used for login requests.
	HTTPClient *http.Client
}

// Provider performs the agent identity login and caches the resulting token.
// Safe for concurrent use; concurrent acquisitions share one in-flight login.
type Provider struct {
	config     Config
	httpClient *http.Client

	group singleflight.Group

	mu         sync.RWMutex
	token      *pkgoauth.Token
	obtainedAt time.Time
}

// NewProvider creates an agent identity provider. No network I/O happens
// until the first Token call.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.AgentID == "" || cfg.AgentPassword == "" {
		return nil, fmt.Errorf("agent credentials cannot be empty")
	}
	if cfg.AuthorizeEndpoint == "" || cfg.AuthenticateEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("authorize, authenticate, and token endpoints must all be set")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &Provider{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Required reports whether a missing agent token must fail connection
// attempts rather than degrade to an undelegated flow.
func (p *Provider) Required() bool {
	return p.config.Required
}

// Token returns a valid agent access token, performing the login flow if the
// cached token is absent or stale. Concurrent callers share one in-flight
// login rather than triggering duplicates.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if tok := p.cachedToken(); tok != "" {
		return tok, nil
	}

	result, err, _ := p.group.Do("login", func() (interface{}, error) {
		// Re-check under the flight: a caller that queued behind a
		// successful login should use its result, not log in again.
		if tok := p.cachedToken(); tok != "" {
			return tok, nil
		}
		token, err := p.login(ctx)
		if err != nil {
			return "", err
		}

		p.mu.Lock()
		p.token = token
		p.obtainedAt = time.Now()
		p.mu.Unlock()

		logging.Info("AgentAuth", "Agent identity login succeeded (expires in %ds)", token.ExpiresIn)
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// cachedToken returns the cached access token if it is still usable: present
// and more than the safety margin away from its nominal expiry.
func (p *Provider) cachedToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.token == nil || p.token.AccessToken == "" {
		return ""
	}
	if p.token.ExpiresIn > 0 {
		expiry := p.obtainedAt.Add(time.Duration(p.token.ExpiresIn) * time.Second)
		if time.Now().After(expiry.Add(-pkgoauth.AgentExpiryMargin)) {
			return ""
		}
	}
	return p.token.AccessToken
}

// Invalidate discards the cached token, forcing the next Token call to log
// in again.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
}

type authorizeResponse struct {
	FlowID string `json:"flow_id"`
}

type authenticateResponse struct {
	Code string `json:"code"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// login runs the three-step direct-response flow: authorize for a flow id,
// authenticate with agent credentials for a code, redeem the code for tokens.
func (p *Provider) login(ctx context.Context) (*pkgoauth.Token, error) {
	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return nil, &AgentAuthError{Step: "authorize", Err: err}
	}
	state, err := pkgoauth.GenerateState()
	if err != nil {
		return nil, &AgentAuthError{Step: "authorize", Err: err}
	}

	// Step 1: direct-response authorization request. No redirect happens;
	// the server returns a flow identifier in the response body.
	authorizeForm := url.Values{
		"response_type":         {"code"},
		"response_mode":         {"direct"},
		"client_id":             {p.config.ClientID},
		"state":                 {state},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.CodeChallengeMethod},
	}
	if p.config.Scope != "" {
		authorizeForm.Set("scope", p.config.Scope)
	}

	var authorize authorizeResponse
	if err := p.postForm(ctx, "authorize", p.config.AuthorizeEndpoint, authorizeForm, &authorize); err != nil {
		return nil, err
	}
	if authorize.FlowID == "" {
		return nil, &AgentAuthError{Step: "authorize", Detail: "response missing flow_id"}
	}

	// Step 2: submit agent credentials against the flow. The code comes
	// back directly in the response body.
	authenticateForm := url.Values{
		"flow_id":  {authorize.FlowID},
		"agent_id": {p.config.AgentID},
		"password": {p.config.AgentPassword},
	}

	var authenticate authenticateResponse
	if err := p.postForm(ctx, "authenticate", p.config.AuthenticateEndpoint, authenticateForm, &authenticate); err != nil {
		return nil, err
	}
	if authenticate.Code == "" {
		return nil, &AgentAuthError{Step: "authenticate", Detail: "response missing code"}
	}

	// Step 3: standard token exchange with this provider's PKCE verifier.
	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {authenticate.Code},
		"client_id":     {p.config.ClientID},
		"code_verifier": {pkce.CodeVerifier},
	}

	var tr tokenResponse
	if err := p.postForm(ctx, "token", p.config.TokenEndpoint, tokenForm, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, &AgentAuthError{Step: "token", Detail: "response missing access_token"}
	}

	return &pkgoauth.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		RefreshToken: tr.RefreshToken,
		Scope:        tr.Scope,
	}, nil
}

// postForm posts a form to an endpoint and decodes the JSON response into
// out. Non-2xx responses and malformed bodies surface as *AgentAuthError
// tagged with the given step.
func (p *Provider) postForm(ctx context.Context, step, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &AgentAuthError{Step: step, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &AgentAuthError{Step: step, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AgentAuthError{Step: step, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn("AgentAuth", "Agent login %s step rejected: status=%d", step, resp.StatusCode)
		return &AgentAuthError{Step: step, StatusCode: resp.StatusCode, Detail: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &AgentAuthError{Step: step, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
