package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tableside/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies a custom configuration directory path.
// When set, config.yaml is loaded from this directory instead of the
// per-user configuration directory.
var serveConfigPath string

// serveCmd starts the assistant: the chat HTTP server, the session manager,
// and, unless an external endpoint is configured, the embedded ordering
// backend.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tableside assistant server",
	Long: `Starts the conversational ordering assistant.

The server exposes:
  POST /api/chat        chat endpoint for guest messages
  GET  /api/sessions    session introspection
  /oauth/callback       OAuth authorization callback

Unless backend.endpoint is configured, an embedded ordering backend is
started as well, serving the menu, carts, and orders over MCP and a
read-only REST surface.

Configuration is loaded from config.yaml in the user config directory
(~/.config/tableside) or the directory given with --config-path.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(&app.Options{
		Debug:      serveDebug,
		ConfigPath: serveConfigPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
}
