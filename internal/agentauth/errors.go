package agentauth

import "fmt"

// AgentAuthError indicates a failure in the agent identity login flow.
// Step names which of the three login steps failed.
type AgentAuthError struct {
	// Step is one of "authorize", "authenticate", or "token".
	Step string

	// StatusCode is the HTTP status returned by the authorization server,
	// zero if the request never completed.
	StatusCode int

	// Detail is the response body or a short description of the failure.
	Detail string

	// Err is the underlying error, if any.
	Err error
}

func (e *AgentAuthError) Error() string {
	msg := fmt.Sprintf("agent authentication failed at %s step", e.Step)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AgentAuthError) Unwrap() error {
	return e.Err
}
