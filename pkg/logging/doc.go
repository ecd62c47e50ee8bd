// Package logging provides tableside's structured logging, built on the
// standard library's slog package.
//
// Log entries carry a subsystem tag that identifies the component emitting
// the entry (Session, OAuth, AgentAuth, ToolClient, Conversation, Backend,
// Server), enabling filtering in aggregated logs:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("Session", "Created new session: %s", logging.TruncateSessionID(id))
//	logging.Error("OAuth", err, "Token exchange failed")
//
// Session identifiers must always pass through TruncateSessionID before
// being logged.
package logging
