package app

// Options carries the command-line level settings for the application.
type Options struct {
	// Debug enables verbose logging across the application.
	Debug bool

	// ConfigPath is the directory to load config.yaml from. Empty means
	// the per-user configuration directory.
	ConfigPath string
}
