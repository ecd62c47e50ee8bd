// Package config defines the assistant's configuration structure and loads
// it from YAML. Configuration is read from a single config.yaml; missing
// files fall back to defaults so a bare invocation still starts with the
// embedded backend and mock-friendly endpoints left empty.
package config
