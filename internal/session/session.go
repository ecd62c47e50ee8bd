package session

import (
	"sync"
	"time"

	"tableside/internal/oauth"
	"tableside/internal/toolclient"
	"tableside/pkg/logging"
)

// State is the authorization state of a session.
type State string

const (
	// StateUninitialized means no connection attempt has completed yet.
	StateUninitialized State = "uninitialized"

	// StateOAuthPending means the session is parked waiting for the user to
	// complete interactive authorization.
	StateOAuthPending State = "oauth_pending"

	// StateAuthenticated means the session holds valid tokens and a live
	// tool client.
	StateAuthenticated State = "authenticated"

	// StateExpired means the session was idle past the timeout and is about
	// to be removed.
	StateExpired State = "expired"
)

// Session holds the state of one conversation. The credential provider is
// created with the session and lives for its whole lifetime; the tool client
// exists only in the authenticated state and is exclusively owned.
type Session struct {
	// ID is the caller-supplied conversation identifier, stable for the
	// conversation's lifetime. It doubles as the OAuth state parameter.
	ID string

	// CreatedAt is when the session was first created.
	CreatedAt time.Time

	provider *oauth.CredentialProvider

	mu           sync.RWMutex
	state        State
	client       toolclient.ToolClient
	lastActivity time.Time
}

// newSession creates a session in the uninitialized state.
func newSession(id string, provider *oauth.CredentialProvider) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		provider:     provider,
		state:        StateUninitialized,
		lastActivity: now,
	}
}

// Provider returns the session's credential provider.
func (s *Session) Provider() *oauth.CredentialProvider {
	return s.provider
}

// State returns the current authorization state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Client returns the connected tool client, or nil when not authenticated.
func (s *Session) Client() toolclient.ToolClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SetAuthenticated stores the connected client and moves the session to the
// authenticated state. A previously owned client, if any, is closed first so
// a replaced connection never leaks.
func (s *Session) SetAuthenticated(client toolclient.ToolClient) {
	s.mu.Lock()
	old := s.client
	s.client = client
	s.state = StateAuthenticated
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			logging.Warn("Session", "Error closing replaced client for session %s: %v",
				logging.TruncateSessionID(s.ID), err)
		}
	}
}

// MarkOAuthPending parks the session waiting for an authorization callback.
func (s *Session) MarkOAuthPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateOAuthPending
	s.lastActivity = time.Now()
}

// Regress handles an authorization-class failure on an authenticated
// session: the cached tokens are invalidated, the owned client is discarded
// (closed exactly once, the reference dropped atomically with initiating the
// close), and the state reverts to the given target.
func (s *Session) Regress(target State) {
	s.mu.Lock()
	old := s.client
	s.client = nil
	s.state = target
	s.mu.Unlock()

	s.provider.InvalidateTokens()

	if old != nil {
		if err := old.Close(); err != nil {
			logging.Warn("Session", "Error closing client on regression for session %s: %v",
				logging.TruncateSessionID(s.ID), err)
		}
	}

	logging.Info("Session", "Session %s regressed to %s after authorization failure",
		logging.TruncateSessionID(s.ID), target)
}

// close discards the owned client and marks the session expired. Safe to
// call more than once.
func (s *Session) close() {
	s.mu.Lock()
	old := s.client
	s.client = nil
	s.state = StateExpired
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			logging.Warn("Session", "Error closing client for session %s: %v",
				logging.TruncateSessionID(s.ID), err)
		}
	}
}
