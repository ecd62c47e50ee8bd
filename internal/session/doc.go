// Package session manages per-conversation state for the ordering
// assistant: a concurrent registry from session id to session state, the
// authorization state machine (uninitialized, oauth_pending, authenticated,
// expired), connection establishment with single-flight discipline per
// session, and idle eviction of abandoned conversations.
//
// Each session exclusively owns its credential provider and, when
// authenticated, its tool client. Clients are closed exactly once, on
// regression, replacement, or eviction; double-close is a no-op.
package session
