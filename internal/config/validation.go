package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add appends a new validation error.
func (ve *ValidationErrors) Add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for problems that would prevent the
// assistant from starting. It returns nil when the config is usable.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", fmt.Sprintf("invalid port %d", cfg.Server.Port))
	}
	if !strings.HasPrefix(cfg.Server.CallbackPath, "/") {
		errs.Add("server.callbackPath", "must start with /")
	}

	if cfg.OAuth.ClientID == "" {
		errs.Add("oauth.clientId", "is required")
	}
	if cfg.OAuth.AuthorizeEndpoint == "" {
		errs.Add("oauth.authorizeEndpoint", "is required")
	}
	if cfg.OAuth.TokenEndpoint == "" {
		errs.Add("oauth.tokenEndpoint", "is required")
	}

	// Agent identity is optional, but when partially configured the rest
	// must be present: silently skipping delegation would be confusing.
	if cfg.Agent.ID != "" || cfg.Agent.Password != "" || cfg.Agent.Required {
		if cfg.Agent.ID == "" {
			errs.Add("agent.id", "is required when agent identity is configured")
		}
		if cfg.Agent.Password == "" {
			errs.Add("agent.password", "is required when agent identity is configured")
		}
		if cfg.Agent.AuthenticateEndpoint == "" {
			errs.Add("agent.authenticateEndpoint", "is required when agent identity is configured")
		}
	}

	if cfg.Engine.Model == "" {
		errs.Add("engine.model", "is required")
	}

	if cfg.Backend.Endpoint == "" {
		if cfg.Backend.Port <= 0 || cfg.Backend.Port > 65535 {
			errs.Add("backend.port", fmt.Sprintf("invalid port %d", cfg.Backend.Port))
		}
		if cfg.Backend.MenuPath == "" {
			errs.Add("backend.menuPath", "is required for the embedded backend")
		}
	}

	if cfg.Sessions.MaxSessions < 0 {
		errs.Add("sessions.maxSessions", "cannot be negative")
	}
	if cfg.Sessions.IdleTimeout < 0 {
		errs.Add("sessions.idleTimeout", "cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
