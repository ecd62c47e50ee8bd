package session

import "fmt"

// InvalidSessionIDError indicates a session ID that failed validation.
type InvalidSessionIDError struct {
	Reason string
}

func (e *InvalidSessionIDError) Error() string {
	return fmt.Sprintf("invalid session ID: %s", e.Reason)
}

// SessionLimitExceededError indicates the registry refused to create a new
// session because the concurrent-session limit was reached.
type SessionLimitExceededError struct {
	Limit   int
	Current int
}

func (e *SessionLimitExceededError) Error() string {
	return fmt.Sprintf("session limit exceeded: %d/%d sessions active", e.Current, e.Limit)
}

// SessionNotFoundError indicates a lookup for a session that does not exist,
// typically an authorization callback whose state names an evicted or
// never-created session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}
