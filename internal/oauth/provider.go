package oauth

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

	"tableside/pkg/logging"
	pkgoauth "tableside/pkg/oauth"
)

// DefaultHTTPTimeout is the default timeout for token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// ClientConfig holds the OAuth client identity shared by all credential
// providers in a deployment.
type ClientConfig struct {
	// ClientID identifies this application to the authorization server.
	ClientID string

	// ClientSecret is set for confidential clients, empty for public ones.
	ClientSecret string

	// RedirectURI is where the authorization server sends the user after
	// consent; it must point at the conversation service's callback endpoint.
	RedirectURI string

	// Scope is the space-separated scope requested at authorization time.
	Scope string

	// HTTPClient overrides the HTTP client used for token exchange.
	HTTPClient *http.Client
}

// CredentialProvider holds the OAuth state for a single session: PKCE pair,
// cached tokens, and the pending authorization URL recorded by a failed
// connection attempt. It is owned 1:1 by a session and safe for concurrent
// use.
type CredentialProvider struct {
	config     ClientConfig
	sessionKey string
	httpClient *http.Client

	mu             sync.Mutex
	pkce           *pkgoauth.PKCEChallenge
	tokens         *pkgoauth.Token
	pendingAuthURL string
}

// NewCredentialProvider creates a credential provider bound to the given
// session key. The session key is used as the OAuth state parameter; it must
// be unique and unguessable per session. A PKCE pair is generated eagerly so
// the provider is ready for its first authorization attempt.
func NewCredentialProvider(sessionKey string, cfg ClientConfig) (*CredentialProvider, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("session key cannot be empty")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID cannot be empty")
	}

	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &CredentialProvider{
		config:     cfg,
		sessionKey: sessionKey,
		httpClient: httpClient,
		pkce:       pkce,
	}, nil
}

// AuthorizationState returns the opaque value round-tripped through the
// authorization server as the state parameter. By convention this is the
// session key, binding a callback to exactly one session.
func (p *CredentialProvider) AuthorizationState() string {
	return p.sessionKey
}

// CurrentTokens returns a copy of the cached tokens without network I/O,
// or nil if none are cached.
func (p *CredentialProvider) CurrentTokens() *pkgoauth.Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokens == nil {
		return nil
	}
	copied := *p.tokens
	return &copied
}

// HasValidTokens reports whether a usable access token is cached: present,
// and either without expiry or not yet past its absolute expiry.
func (p *CredentialProvider) HasValidTokens() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokens == nil || p.tokens.AccessToken == "" {
		return false
	}
	return !p.tokens.IsExpired()
}

// SaveTokens overwrites the cached token set and clears the pending
// authorization URL: fresh tokens and a fresh pending URL never coexist.
//
// Passing nil or a token set without an access token is the explicit
// invalidate operation, used when the backend reports 401 mid-conversation.
func (p *CredentialProvider) SaveTokens(tokens *pkgoauth.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tokens == nil || tokens.AccessToken == "" {
		p.tokens = nil
		return
	}

	copied := *tokens
	copied.SetExpiresAtFromExpiresIn()
	p.tokens = &copied
	p.pendingAuthURL = ""
}

// InvalidateTokens discards the cached tokens, forcing HasValidTokens to
// false until a new exchange succeeds.
func (p *CredentialProvider) InvalidateTokens() {
	p.SaveTokens(nil)
}

// RecordPendingAuthorization stores the authorization URL the user must
// visit. Called by the transport's auth layer when the tool server demands
// interactive authorization.
func (p *CredentialProvider) RecordPendingAuthorization(authURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingAuthURL = authURL
}

// PendingAuthorizationURL returns the recorded authorization URL, if any.
func (p *CredentialProvider) PendingAuthorizationURL() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingAuthURL, p.pendingAuthURL != ""
}

// ClearPendingAuthorization discards the recorded authorization URL. The
// next connection attempt must build a fresh one.
func (p *CredentialProvider) ClearPendingAuthorization() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingAuthURL = ""
}

// RegeneratePKCE replaces the PKCE pair. Called before building a new
// authorization URL after a failed or abandoned attempt, so a stale verifier
// is never offered against a fresh authorization request.
func (p *CredentialProvider) RegeneratePKCE() error {
	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return fmt.Errorf("failed to regenerate PKCE: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pkce = pkce
	return nil
}

// BuildAuthorizationURL constructs the authorization URL for this session's
// current PKCE pair. An optional actorToken is attached as the
// requested_actor parameter, signalling that the agent identity acts on the
// user's behalf.
func (p *CredentialProvider) BuildAuthorizationURL(authorizeEndpoint, actorToken string) (string, error) {
	authURL, err := url.Parse(authorizeEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorize endpoint: %w", err)
	}

	p.mu.Lock()
	pkce := p.pkce
	p.mu.Unlock()

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {p.config.ClientID},
		"redirect_uri":          {p.config.RedirectURI},
		"state":                 {p.sessionKey},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.CodeChallengeMethod},
	}
	if p.config.Scope != "" {
		params.Set("scope", p.config.Scope)
	}
	if actorToken != "" {
		params.Set("requested_actor", actorToken)
	}

	authURL.RawQuery = params.Encode()
	return authURL.String(), nil
}

// tokenResponse is the wire shape of a successful token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ExchangeAuthorizationCode redeems an authorization code at the token
// endpoint using this provider's PKCE verifier. On success the tokens are
// saved (which clears the pending authorization URL) and returned. Failures
// surface as *TokenExchangeError; the pending URL is cleared either way so a
// retry starts from a clean slate.
func (p *CredentialProvider) ExchangeAuthorizationCode(ctx context.Context, tokenEndpoint, code string) (*pkgoauth.Token, error) {
	p.mu.Lock()
	verifier := p.pkce.CodeVerifier
	p.mu.Unlock()

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURI},
		"client_id":     {p.config.ClientID},
		"code_verifier": {verifier},
	}
	if p.config.ClientSecret != "" {
		data.Set("client_secret", p.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.ClearPendingAuthorization()
		return nil, &TokenExchangeError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.ClearPendingAuthorization()
		return nil, &TokenExchangeError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.ClearPendingAuthorization()
		logging.Warn("OAuth", "Token exchange rejected for session %s: status=%d",
			logging.TruncateSessionID(p.sessionKey), resp.StatusCode)
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Detail: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		p.ClearPendingAuthorization()
		return nil, &TokenExchangeError{Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tr.AccessToken == "" {
		p.ClearPendingAuthorization()
		return nil, &TokenExchangeError{Detail: "token response missing access_token"}
	}

	token := &pkgoauth.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
		Scope:        tr.Scope,
	}

	p.SaveTokens(token)

	logging.Debug("OAuth", "Token exchange succeeded for session %s",
		logging.TruncateSessionID(p.sessionKey))

	saved := p.CurrentTokens()
	return saved, nil
}
