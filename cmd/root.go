package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"tableside/internal/app"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd represents the base command for the tableside application.
var rootCmd = &cobra.Command{
	Use:   "tableside",
	Short: "Restaurant ordering assistant",
	Long: `tableside runs a conversational ordering assistant for restaurants.
Guests chat with the assistant over HTTP; the assistant browses the menu,
manages carts, and places orders through an MCP tool backend, authorizing
each guest session against an OAuth authorization server.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command and the application.
// Called from the main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
	app.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tableside version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
