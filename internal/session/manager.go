package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tableside/internal/oauth"
	"tableside/internal/toolclient"
	"tableside/pkg/logging"
)

const (
	// MaxSessionIDLength bounds session IDs to prevent memory exhaustion
	// from adversarial identifiers.
	MaxSessionIDLength = 256

	// DefaultMaxSessions caps concurrent sessions.
	DefaultMaxSessions = 10000

	// DefaultIdleTimeout is how long a session may sit idle before the
	// sweep evicts it.
	DefaultIdleTimeout = 24 * time.Hour

	// DefaultSweepInterval is how often the idle sweep runs.
	DefaultSweepInterval = 30 * time.Minute

	// minSweepInterval prevents excessive sweep frequency when the idle
	// timeout is very short.
	minSweepInterval = time.Second
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// Establisher opens tool connections for sessions.
	Establisher *toolclient.Establisher

	// Credentials is the OAuth client identity used to build each
	// session's credential provider.
	Credentials oauth.ClientConfig

	// IdleTimeout is how long a session may be idle before eviction.
	// Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// SweepInterval is how often idle sessions are swept. Zero means
	// DefaultSweepInterval, bounded below by the idle timeout.
	SweepInterval time.Duration

	// MaxSessions caps concurrent sessions. Zero means DefaultMaxSessions;
	// negative means unlimited.
	MaxSessions int
}

// Manager is the concurrent session registry. It owns session creation,
// lookup, activity tracking, connection establishment (single-flight per
// session), idle eviction, and teardown.
//
// The manager is explicitly constructed and torn down: NewManager starts the
// sweep goroutine, Destroy stops it and clears all state. There are no
// package-level singletons.
type Manager struct {
	config ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session

	// connects serializes connection attempts per session id so a second
	// message for an unauthenticated session joins the in-flight attempt
	// instead of generating a second, discarded PKCE verifier.
	connects singleflight.Group

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// NewManager creates a session manager and starts its idle sweep.
// Callers must call Destroy when done to stop the sweep goroutine.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Establisher == nil {
		return nil, fmt.Errorf("establisher cannot be nil")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SweepInterval > cfg.IdleTimeout {
		cfg.SweepInterval = cfg.IdleTimeout
	}
	if cfg.SweepInterval < minSweepInterval {
		cfg.SweepInterval = minSweepInterval
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	m := &Manager{
		config:    cfg,
		sessions:  make(map[string]*Session),
		stopSweep: make(chan struct{}),
	}

	go m.sweepLoop()

	return m, nil
}

// ValidateSessionID checks that a session ID is non-empty and within the
// length bound.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return &InvalidSessionIDError{Reason: "session ID cannot be empty"}
	}
	if len(sessionID) > MaxSessionIDLength {
		return &InvalidSessionIDError{Reason: fmt.Sprintf("session ID exceeds maximum length of %d", MaxSessionIDLength)}
	}
	return nil
}

// GetOrCreate returns the session for the given id, creating it on first
// use. The last-activity timestamp is updated either way. Concurrent callers
// for the same new id observe exactly one created session.
func (m *Manager) GetOrCreate(sessionID string) (*Session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		logging.Warn("SessionManager", "Rejected invalid session ID: %v", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok {
		existing.Touch()
		return existing, nil
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		logging.Warn("SessionManager", "Session limit reached (%d), rejecting new session: %s",
			m.config.MaxSessions, logging.TruncateSessionID(sessionID))
		return nil, &SessionLimitExceededError{Limit: m.config.MaxSessions, Current: len(m.sessions)}
	}

	provider, err := oauth.NewCredentialProvider(sessionID, m.config.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential provider: %w", err)
	}

	created := newSession(sessionID, provider)
	m.sessions[sessionID] = created

	logging.Debug("SessionManager", "Created new session: %s (total: %d)",
		logging.TruncateSessionID(sessionID), len(m.sessions))

	return created, nil
}

// Get returns the session for the given id without creating one. A found
// session has its activity timestamp updated.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if ok {
		s.Touch()
	}
	return s, ok
}

// EnsureConnected makes sure the session holds a live tool client,
// attempting a connection if it does not. Concurrent callers for the same
// session share one attempt. On an authorization-required outcome the
// session parks in oauth_pending and *toolclient.OAuthRequiredError is
// returned; on a connectivity failure the state is left unchanged and
// *toolclient.ConnectionError is returned.
func (m *Manager) EnsureConnected(ctx context.Context, s *Session) error {
	if s.State() == StateAuthenticated && s.Client() != nil {
		return nil
	}

	_, err, _ := m.connects.Do(s.ID, func() (interface{}, error) {
		// Re-check under the flight: a caller queued behind a successful
		// attempt must not connect again.
		if s.State() == StateAuthenticated && s.Client() != nil {
			return nil, nil
		}

		client, err := m.config.Establisher.Connect(ctx, s.Provider())
		if err != nil {
			if _, required := err.(*toolclient.OAuthRequiredError); required {
				s.MarkOAuthPending()
			}
			return nil, err
		}

		s.SetAuthenticated(client)
		return nil, nil
	})
	return err
}

// HandleUnauthorized reacts to a mid-conversation authorization failure:
// credentials are invalidated, the stale client discarded, and the session
// regressed. When a fresh authorization URL can be obtained synchronously
// the session parks in oauth_pending and the URL is returned; otherwise the
// session reverts to uninitialized.
func (m *Manager) HandleUnauthorized(ctx context.Context, s *Session) (string, bool) {
	s.Regress(StateUninitialized)

	err := m.EnsureConnected(ctx, s)
	if err == nil {
		// Reconnect succeeded outright, e.g. the backend stopped requiring
		// auth. The session is authenticated again.
		return "", false
	}
	if oauthErr, ok := err.(*toolclient.OAuthRequiredError); ok {
		return oauthErr.AuthorizationURL, true
	}
	return "", false
}

// Delete removes a session, closing its owned client first.
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		s.close()
		logging.Debug("SessionManager", "Deleted session: %s", logging.TruncateSessionID(sessionID))
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of the active sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s)
	}
	return result
}

// EvictExpired removes all sessions idle past the timeout, closing their
// clients first, and returns how many were evicted. Running it twice
// back-to-back evicts nothing the second time.
func (m *Manager) EvictExpired() int {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.config.IdleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
	}

	if len(expired) > 0 {
		logging.Debug("SessionManager", "Evicted %d idle sessions", len(expired))
	}

	return len(expired)
}

// Destroy stops the idle sweep and tears down all sessions immediately.
// Used at process shutdown. Safe to call more than once.
func (m *Manager) Destroy() {
	m.stopOnce.Do(func() { close(m.stopSweep) })

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range remaining {
		s.close()
	}

	logging.Debug("SessionManager", "Session manager destroyed")
}

// sweepLoop periodically evicts idle sessions until Destroy is called.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.EvictExpired()
		case <-m.stopSweep:
			return
		}
	}
}
