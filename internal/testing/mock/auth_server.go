package mock

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// AuthServerConfig configures the mock authorization server behavior.
type AuthServerConfig struct {
	// Issuer is the server's issuer identifier (e.g., "http://localhost:9999").
	// Defaults to the actual listen address once started.
	Issuer string

	// ClientID is the expected OAuth client ID.
	ClientID string

	// AgentID and AgentPassword are the credentials accepted by the
	// direct-response login flow.
	AgentID       string
	AgentPassword string

	// AcceptedScopes lists scopes the server will accept.
	AcceptedScopes []string

	// TokenLifetime is how long issued tokens remain valid.
	TokenLifetime time.Duration

	// PKCERequired enforces PKCE on all authorization requests.
	PKCERequired bool

	// AutoApprove skips the approval page and redirects straight back
	// with a code, simulating an already-consented diner.
	AutoApprove bool

	// SimulateErrors can be set to simulate error conditions.
	SimulateErrors *ErrorSimulation

	// Debug enables debug logging to stderr.
	Debug bool

	// Clock is the clock used for expiry decisions (defaults to RealClock).
	Clock Clock
}

// ErrorSimulation allows simulating authorization server failures.
type ErrorSimulation struct {
	// TokenEndpointError returns this error from /token
	TokenEndpointError string

	// AuthorizeEndpointDelay adds delay to /authorize
	AuthorizeEndpointDelay time.Duration

	// InvalidGrant rejects all token exchanges
	InvalidGrant bool

	// InvalidToken rejects all token validations
	InvalidToken bool

	// RejectAgentLogin rejects all /authn credential submissions
	RejectAgentLogin bool
}

// AuthServer is a mock OAuth 2.0 authorization server covering both the
// browser authorization code flow and the direct-response agent login flow.
type AuthServer struct {
	config     AuthServerConfig
	httpServer *http.Server
	listener   net.Listener
	port       int
	running    bool
	mu         sync.RWMutex

	authCodes    map[string]*authCodeEntry
	loginFlows   map[string]*loginFlowEntry
	issuedTokens map[string]*issuedToken

	clock Clock
}

type authCodeEntry struct {
	ClientID        string
	RedirectURI     string
	Scope           string
	State           string
	CodeChallenge   string
	ChallengeMethod string
	Subject         string
	ActorAgentID    string
	CreatedAt       time.Time
}

type loginFlowEntry struct {
	ClientID        string
	Scope           string
	State           string
	CodeChallenge   string
	ChallengeMethod string
	CreatedAt       time.Time
}

type issuedToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ClientID     string
	Subject      string
	ActorAgentID string
	ExpiresAt    time.Time
}

// TokenResponse is the OAuth token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// NewAuthServer creates a new mock authorization server.
func NewAuthServer(config AuthServerConfig) *AuthServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = 1 * time.Hour
	}
	if len(config.AcceptedScopes) == 0 {
		config.AcceptedScopes = []string{"openid", "profile", "ordering"}
	}
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.AgentID == "" {
		config.AgentID = "test-agent"
	}
	if config.AgentPassword == "" {
		config.AgentPassword = "test-agent-password"
	}

	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	return &AuthServer{
		config:       config,
		authCodes:    make(map[string]*authCodeEntry),
		loginFlows:   make(map[string]*loginFlowEntry),
		issuedTokens: make(map[string]*issuedToken),
		clock:        clock,
	}
}

// Start starts the server on a random available port.
func (s *AuthServer) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.port, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to listen: %w", err)
	}

	s.port = listener.Addr().(*net.TCPAddr).Port
	s.listener = listener

	if s.config.Issuer == "" {
		s.config.Issuer = fmt.Sprintf("http://127.0.0.1:%d", s.port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/authn", s.handleAuthenticate)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.config.Debug {
				fmt.Fprintf(os.Stderr, "auth server error: %v\n", err)
			}
		}
	}()

	s.running = true

	if s.config.Debug {
		fmt.Fprintf(os.Stderr, "mock auth server started on port %d (issuer: %s)\n", s.port, s.config.Issuer)
	}

	return s.port, nil
}

// Stop stops the server.
func (s *AuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.httpServer.Shutdown(ctx)
	s.running = false
	return err
}

// Port returns the port the server is listening on.
func (s *AuthServer) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// IsRunning returns whether the server is currently running.
func (s *AuthServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// IssuerURL returns the full issuer URL.
func (s *AuthServer) IssuerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Issuer
}

// AuthorizeURL returns the authorization endpoint URL.
func (s *AuthServer) AuthorizeURL() string {
	return s.IssuerURL() + "/authorize"
}

// AuthenticateURL returns the credential submission endpoint URL.
func (s *AuthServer) AuthenticateURL() string {
	return s.IssuerURL() + "/authn"
}

// TokenURL returns the token endpoint URL.
func (s *AuthServer) TokenURL() string {
	return s.IssuerURL() + "/token"
}

// ValidateToken checks if an access token is known and unexpired. It
// satisfies the token validator interface of protected backends.
func (s *AuthServer) ValidateToken(accessToken string) bool {
	if s.config.SimulateErrors != nil && s.config.SimulateErrors.InvalidToken {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.issuedTokens[accessToken]
	if !exists {
		return false
	}
	return s.clock.Now().Before(token.ExpiresAt)
}

// TokenActor returns the agent id a token was delegated through, or empty
// when the token carries no delegation.
func (s *AuthServer) TokenActor(accessToken string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.issuedTokens[accessToken]
	if !exists {
		return ""
	}
	return token.ActorAgentID
}

// RevokeToken removes a token, making it invalid for future requests.
// Returns true if the token existed.
func (s *AuthServer) RevokeToken(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issuedTokens[accessToken]; exists {
		delete(s.issuedTokens, accessToken)
		return true
	}
	return false
}

// RevokeAllTokens removes all issued tokens and returns how many there were.
func (s *AuthServer) RevokeAllTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.issuedTokens)
	s.issuedTokens = make(map[string]*issuedToken)
	return count
}

// PendingAuthCode returns a pending authorization code for the given state,
// or empty if none exists. Used by tests that drive the approval page flow.
func (s *AuthServer) PendingAuthCode(state string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for code, entry := range s.authCodes {
		if entry.State == state {
			return code
		}
	}
	return ""
}

func (s *AuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := map[string]interface{}{
		"issuer":                                s.config.Issuer,
		"authorization_endpoint":                s.config.Issuer + "/authorize",
		"token_endpoint":                        s.config.Issuer + "/token",
		"userinfo_endpoint":                     s.config.Issuer + "/userinfo",
		"response_types_supported":              []string{"code"},
		"response_modes_supported":              []string{"query", "direct"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
		"scopes_supported":                      s.config.AcceptedScopes,
		"code_challenge_methods_supported":      []string{"S256", "plain"},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metadata)
}

// handleAuthorize serves both flows: GET requests are the browser-based
// authorization code flow, POST requests with response_mode=direct start an
// agent login flow and return a flow id in the body.
func (s *AuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.config.SimulateErrors != nil && s.config.SimulateErrors.AuthorizeEndpointDelay > 0 {
		time.Sleep(s.config.SimulateErrors.AuthorizeEndpointDelay)
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if r.FormValue("response_mode") == "direct" {
			s.handleDirectAuthorize(w, r)
			return
		}
		http.Error(w, "unsupported response_mode", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	scope := query.Get("scope")
	state := query.Get("state")
	codeChallenge := query.Get("code_challenge")
	challengeMethod := query.Get("code_challenge_method")
	requestedActor := query.Get("requested_actor")

	if query.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if s.config.ClientID != "" && clientID != s.config.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if s.config.PKCERequired && codeChallenge == "" {
		http.Error(w, "PKCE required: code_challenge missing", http.StatusBadRequest)
		return
	}

	// A delegation request must reference a live agent token.
	actorAgentID := ""
	if requestedActor != "" {
		s.mu.RLock()
		actorToken, exists := s.issuedTokens[requestedActor]
		s.mu.RUnlock()
		if !exists || !s.clock.Now().Before(actorToken.ExpiresAt) {
			http.Error(w, "invalid_request: requested_actor token unknown or expired", http.StatusBadRequest)
			return
		}
		actorAgentID = actorToken.Subject
	}

	code := s.storeAuthCode(&authCodeEntry{
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		Scope:           scope,
		State:           state,
		CodeChallenge:   codeChallenge,
		ChallengeMethod: challengeMethod,
		Subject:         "test-diner",
		ActorAgentID:    actorAgentID,
	})

	if s.config.AutoApprove {
		redirectURL, err := url.Parse(redirectURI)
		if err != nil {
			http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
			return
		}
		q := redirectURL.Query()
		q.Set("code", code)
		if state != "" {
			q.Set("state", state)
		}
		redirectURL.RawQuery = q.Encode()

		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
		return
	}

	// Approval page for manual testing; tests capture the code from here
	// or via PendingAuthCode.
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Mock Authorization Server</title></head>
<body>
<h1>Authorize ordering assistant</h1>
<p>Client ID: <code>%s</code></p>
<p>Requested Scopes: <code>%s</code></p>
<form action="%s" method="GET">
<input type="hidden" name="code" value="%s">
<input type="hidden" name="state" value="%s">
<button type="submit">Authorize</button>
</form>
</body>
</html>`, clientID, scope, redirectURI, code, state)
}

// handleDirectAuthorize starts an agent login flow. No redirect happens;
// the caller gets a flow id to authenticate against.
func (s *AuthServer) handleDirectAuthorize(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	codeChallenge := r.FormValue("code_challenge")

	if r.FormValue("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if s.config.ClientID != "" && clientID != s.config.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if s.config.PKCERequired && codeChallenge == "" {
		http.Error(w, "PKCE required: code_challenge missing", http.StatusBadRequest)
		return
	}

	flowID := generateOpaqueToken()

	s.mu.Lock()
	s.loginFlows[flowID] = &loginFlowEntry{
		ClientID:        clientID,
		Scope:           r.FormValue("scope"),
		State:           r.FormValue("state"),
		CodeChallenge:   codeChallenge,
		ChallengeMethod: r.FormValue("code_challenge_method"),
		CreatedAt:       s.clock.Now(),
	}
	s.mu.Unlock()

	if s.config.Debug {
		fmt.Fprintf(os.Stderr, "started direct login flow %s for client %s\n", flowID[:8], clientID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"flow_id": flowID})
}

// handleAuthenticate accepts agent credentials against a login flow and
// returns an authorization code in the response body.
func (s *AuthServer) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	flowID := r.FormValue("flow_id")
	agentID := r.FormValue("agent_id")
	password := r.FormValue("password")

	s.mu.Lock()
	flow, exists := s.loginFlows[flowID]
	if exists {
		delete(s.loginFlows, flowID)
	}
	s.mu.Unlock()

	if !exists {
		jsonError(w, http.StatusBadRequest, "invalid_request", "unknown or expired flow_id")
		return
	}

	rejected := s.config.SimulateErrors != nil && s.config.SimulateErrors.RejectAgentLogin
	if rejected || agentID != s.config.AgentID || password != s.config.AgentPassword {
		jsonError(w, http.StatusUnauthorized, "access_denied", "agent credentials rejected")
		return
	}

	code := s.storeAuthCode(&authCodeEntry{
		ClientID:        flow.ClientID,
		Scope:           flow.Scope,
		State:           flow.State,
		CodeChallenge:   flow.CodeChallenge,
		ChallengeMethod: flow.ChallengeMethod,
		Subject:         agentID,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"code": code})
}

func (s *AuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if s.config.SimulateErrors != nil {
		if s.config.SimulateErrors.TokenEndpointError != "" {
			jsonError(w, http.StatusBadRequest, "server_error", s.config.SimulateErrors.TokenEndpointError)
			return
		}
		if s.config.SimulateErrors.InvalidGrant {
			jsonError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid")
			return
		}
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r)
	case "refresh_token":
		s.handleRefreshToken(w, r)
	default:
		jsonError(w, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant_type %s not supported", r.FormValue("grant_type")))
	}
}

func (s *AuthServer) handleAuthCodeExchange(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	codeVerifier := r.FormValue("code_verifier")

	// Codes are single-use; a replay fails even with the right verifier.
	s.mu.Lock()
	entry, exists := s.authCodes[code]
	if exists {
		delete(s.authCodes, code)
	}
	s.mu.Unlock()

	if !exists {
		jsonError(w, http.StatusBadRequest, "invalid_grant", "authorization code not found or expired")
		return
	}

	if entry.CodeChallenge != "" {
		if codeVerifier == "" {
			jsonError(w, http.StatusBadRequest, "invalid_grant", "code_verifier required")
			return
		}
		if !verifyPKCE(entry.CodeChallenge, entry.ChallengeMethod, codeVerifier) {
			jsonError(w, http.StatusBadRequest, "invalid_grant", "code_verifier verification failed")
			return
		}
	}

	response := s.issueTokens(entry)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *AuthServer) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.FormValue("refresh_token")

	var original *issuedToken
	s.mu.RLock()
	for _, token := range s.issuedTokens {
		if token.RefreshToken == refreshToken {
			original = token
			break
		}
	}
	s.mu.RUnlock()

	if original == nil {
		jsonError(w, http.StatusBadRequest, "invalid_grant", "refresh token not found")
		return
	}

	response := s.issueTokens(&authCodeEntry{
		ClientID:     original.ClientID,
		Scope:        original.Scope,
		Subject:      original.Subject,
		ActorAgentID: original.ActorAgentID,
	})

	s.mu.Lock()
	delete(s.issuedTokens, original.AccessToken)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *AuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" || !s.ValidateToken(token) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	info := s.issuedTokens[token]
	s.mu.RUnlock()

	userInfo := map[string]interface{}{
		"sub": info.Subject,
	}
	if info.ActorAgentID != "" {
		userInfo["act"] = map[string]string{"sub": info.ActorAgentID}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(userInfo)
}

func (s *AuthServer) storeAuthCode(entry *authCodeEntry) string {
	code := generateOpaqueToken()
	entry.CreatedAt = s.clock.Now()

	s.mu.Lock()
	s.authCodes[code] = entry
	s.mu.Unlock()

	return code
}

func (s *AuthServer) issueTokens(entry *authCodeEntry) TokenResponse {
	accessToken := generateOpaqueToken()
	refreshToken := generateOpaqueToken()

	s.mu.Lock()
	s.issuedTokens[accessToken] = &issuedToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scope:        entry.Scope,
		ClientID:     entry.ClientID,
		Subject:      entry.Subject,
		ActorAgentID: entry.ActorAgentID,
		ExpiresAt:    s.clock.Now().Add(s.config.TokenLifetime),
	}
	s.mu.Unlock()

	return TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.TokenLifetime.Seconds()),
		Scope:        entry.Scope,
	}
}

func verifyPKCE(challenge, method, verifier string) bool {
	switch method {
	case "S256":
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
	case "plain", "":
		return verifier == challenge
	default:
		return false
	}
}

// generateOpaqueToken generates a random opaque token.
// Panics if crypto/rand fails, which should never happen in practice.
func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func jsonError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// ExtractBearerToken extracts a bearer token from an Authorization header.
func ExtractBearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}
