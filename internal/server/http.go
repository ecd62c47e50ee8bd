package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tableside/internal/conversation"
	"tableside/internal/session"
	"tableside/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses. Chat
	// turns can spend most of this inside the language model call.
	DefaultWriteTimeout = 120 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Host string
	Port int

	// CallbackPath is where the authorization server redirects diners
	// back to, e.g. "/oauth/callback".
	CallbackPath string
}

// Server serves the chat API and the OAuth callback.
type Server struct {
	config       Config
	orchestrator *conversation.Orchestrator
	sessions     *session.Manager
	httpServer   *http.Server
}

// New creates the HTTP server around an orchestrator and session manager.
func New(cfg Config, orchestrator *conversation.Orchestrator, sessions *session.Manager) *Server {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/oauth/callback"
	}

	s := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		sessions:     sessions,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc(cfg.CallbackPath, s.handleOAuthCallback)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	return s
}

// Handler returns the server's handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called; http.ErrServerClosed is swallowed as the normal shutdown result.
func (s *Server) Start() error {
	logging.Info("Server", "Chat API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	reply, err := s.orchestrator.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		status := statusForSessionError(err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// statusForSessionError maps session admission errors onto HTTP statuses.
// Anything unrecognized is a 500.
func statusForSessionError(err error) int {
	var invalidID *session.InvalidSessionIDError
	if errors.As(err, &invalidID) {
		return http.StatusBadRequest
	}
	var limit *session.SessionLimitExceededError
	if errors.As(err, &limit) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// handleOAuthCallback completes a session's authorization. The state
// parameter carries the session key; the rendered page is what the diner
// sees in their browser after approving or denying.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errParam := query.Get("error")

	result, err := s.orchestrator.CompleteAuthorization(r.Context(), code, state, errParam)
	if err != nil {
		logging.Warn("Server", "Authorization callback failed: %v", err)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authorization Failed</title></head>
<body>
<h1>Authorization failed</h1>
<p>Your session could not be authorized. Return to the chat and try again.</p>
</body>
</html>`)
		return
	}

	logging.Info("Server", "Session %s authorized via callback", logging.TruncateSessionID(result.SessionID))

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authorization Successful</title></head>
<body>
<h1>You're all set</h1>
<p>Your ordering session is authorized. You can close this window and
return to the chat.</p>
</body>
</html>`)
}

type sessionSummary struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.sessions.Sessions()
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:           sess.ID,
			State:        string(sess.State()),
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(summaries),
		"sessions": summaries,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, ok := s.sessions.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sessionSummary{
			ID:           sess.ID,
			State:        string(sess.State()),
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity(),
		})

	case http.MethodDelete:
		s.sessions.Delete(id)
		s.orchestrator.ForgetSession(id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Server", err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
