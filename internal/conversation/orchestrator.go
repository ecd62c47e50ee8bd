package conversation

import (
	"context"
	"errors"
	"fmt"

	"tableside/internal/engine"
	"tableside/internal/session"
	"tableside/internal/toolclient"
	"tableside/pkg/logging"
)

// User-facing fallback messages. None of them leak internal detail.
const (
	msgAuthorizationPrompt = "Before I can take your order, please sign in using the link below."
	msgBackendUnavailable  = "I'm having trouble reaching the ordering system right now. Please try again in a moment."
	msgOverloaded          = "The kitchen is a bit swamped right now. Please try again shortly."
	msgRateLimited         = "You're sending messages faster than I can keep up. Please try again shortly."
	msgGenericFailure      = "Something went wrong on my end. Please try again."
)

// Reply is the orchestrator's answer to one inbound message.
type Reply struct {
	// Text is the assistant's answer or a user-safe status message.
	Text string `json:"text"`

	// AuthorizationRequired signals that the user must complete interactive
	// authorization before the conversation can proceed.
	AuthorizationRequired bool `json:"authorizationRequired,omitempty"`

	// AuthorizationURL is where the user must be sent when
	// AuthorizationRequired is set.
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
}

// CallbackResult is the outcome of an authorization callback.
type CallbackResult struct {
	// SessionID is the session the callback resolved to.
	SessionID string `json:"sessionId"`

	// Authenticated reports whether the session ended up fully connected.
	Authenticated bool `json:"authenticated"`
}

// Config configures the orchestrator.
type Config struct {
	// TokenEndpoint is the authorization server's token endpoint, used to
	// redeem callback codes.
	TokenEndpoint string

	// DevelopmentMode includes failure detail in user-visible replies.
	// Never enable in production.
	DevelopmentMode bool
}

// Orchestrator wires the session manager and the completion engine's tool
// loop into the chat entry points. Every error below this boundary is
// converted to a Reply; nothing propagates raw to the HTTP layer except
// parameter-validation and session-limit failures.
type Orchestrator struct {
	config   Config
	sessions *session.Manager
	loop     *engine.Loop
	history  *historyStore
}

// NewOrchestrator creates a conversation orchestrator.
func NewOrchestrator(cfg Config, sessions *session.Manager, loop *engine.Loop) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if loop == nil {
		return nil, fmt.Errorf("engine loop cannot be nil")
	}
	return &Orchestrator{
		config:   cfg,
		sessions: sessions,
		loop:     loop,
		history:  newHistoryStore(),
	}, nil
}

// HandleMessage processes one inbound user message for the given session.
// Validation and session-limit failures return an error for the transport
// to map to a status code; everything else comes back as a Reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	s, err := o.sessions.GetOrCreate(sessionID)
	if err != nil {
		return Reply{}, err
	}

	if err := o.sessions.EnsureConnected(ctx, s); err != nil {
		return o.classifyConnectError(sessionID, err), nil
	}

	result, err := o.loop.Run(ctx, engine.Request{
		History: o.history.Get(sessionID),
		Text:    text,
		Client:  s.Client(),
	})
	if err != nil {
		return o.classifyRunError(ctx, s, err), nil
	}

	o.history.Append(sessionID, result.Messages)

	logging.Debug("Conversation", "Completed turn for session %s in %d iterations (%d tokens)",
		logging.TruncateSessionID(sessionID), result.Iterations, result.Usage.TotalTokens)

	return Reply{Text: result.Text}, nil
}

// classifyConnectError maps a connection failure to a Reply.
func (o *Orchestrator) classifyConnectError(sessionID string, err error) Reply {
	var oauthErr *toolclient.OAuthRequiredError
	if errors.As(err, &oauthErr) {
		return Reply{
			Text:                  msgAuthorizationPrompt,
			AuthorizationRequired: true,
			AuthorizationURL:      oauthErr.AuthorizationURL,
		}
	}

	logging.Warn("Conversation", "Connection failed for session %s: %v",
		logging.TruncateSessionID(sessionID), err)
	return o.failureReply(msgBackendUnavailable, err)
}

// classifyRunError maps a tool-loop failure to a Reply, regressing the
// session on authorization-class errors.
func (o *Orchestrator) classifyRunError(ctx context.Context, s *session.Session, err error) Reply {
	switch {
	case toolclient.IsAuthError(err):
		logging.Info("Conversation", "Authorization failure mid-conversation for session %s",
			logging.TruncateSessionID(s.ID))
		if authURL, required := o.sessions.HandleUnauthorized(ctx, s); required {
			return Reply{
				Text:                  msgAuthorizationPrompt,
				AuthorizationRequired: true,
				AuthorizationURL:      authURL,
			}
		}
		return o.failureReply(msgBackendUnavailable, err)

	case engine.IsRateLimit(err):
		return o.failureReply(msgRateLimited, err)

	case engine.IsOverloaded(err):
		return o.failureReply(msgOverloaded, err)

	case engine.IsBadRequest(err):
		return o.failureReply(msgGenericFailure, err)

	default:
		logging.Error("Conversation", err, "Unclassified failure for session %s",
			logging.TruncateSessionID(s.ID))
		return o.failureReply(msgGenericFailure, err)
	}
}

// failureReply builds a user-safe reply, appending detail only in
// development mode.
func (o *Orchestrator) failureReply(msg string, err error) Reply {
	if o.config.DevelopmentMode && err != nil {
		return Reply{Text: fmt.Sprintf("%s (%v)", msg, err)}
	}
	return Reply{Text: msg}
}

// CompleteAuthorization handles the OAuth redirect callback. The state
// parameter names the session; the code is redeemed through the session's
// credential provider and, on success, the tool connection is rebuilt
// immediately — redeemed tokens alone do not make the session usable.
func (o *Orchestrator) CompleteAuthorization(ctx context.Context, code, state, errParam string) (CallbackResult, error) {
	if state == "" {
		return CallbackResult{}, fmt.Errorf("missing state parameter")
	}

	s, ok := o.sessions.Get(state)
	if !ok {
		return CallbackResult{}, &session.SessionNotFoundError{SessionID: state}
	}

	if errParam != "" {
		// The authorization server reported a denial. The pending URL is
		// stale now; the next message regenerates a fresh one.
		s.Provider().ClearPendingAuthorization()
		logging.Info("Conversation", "Authorization denied for session %s: %s",
			logging.TruncateSessionID(state), errParam)
		return CallbackResult{SessionID: state}, fmt.Errorf("authorization failed: %s", errParam)
	}

	if code == "" {
		return CallbackResult{}, fmt.Errorf("missing code parameter")
	}

	if _, err := s.Provider().ExchangeAuthorizationCode(ctx, o.config.TokenEndpoint, code); err != nil {
		logging.Warn("Conversation", "Token exchange failed for session %s: %v",
			logging.TruncateSessionID(state), err)
		return CallbackResult{SessionID: state}, err
	}

	if err := o.sessions.EnsureConnected(ctx, s); err != nil {
		logging.Warn("Conversation", "Reconnect after authorization failed for session %s: %v",
			logging.TruncateSessionID(state), err)
		return CallbackResult{SessionID: state}, err
	}

	logging.Info("Conversation", "Session %s authenticated via callback",
		logging.TruncateSessionID(state))

	return CallbackResult{SessionID: state, Authenticated: true}, nil
}

// ForgetSession drops the transcript kept for a session. Called when the
// session itself is deleted.
func (o *Orchestrator) ForgetSession(sessionID string) {
	o.history.Forget(sessionID)
}
