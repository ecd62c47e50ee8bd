package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tableside/internal/cli"
)

var (
	chatServerURL  string
	chatBackendURL string
	chatSessionID  string
)

// chatCmd opens an interactive chat session against a running tableside
// server.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running tableside server",
	Long: `Opens an interactive chat session against a running tableside server.

Messages are sent to the server's /api/chat endpoint under a single session
id, so the conversation keeps its cart and authorization state across turns.
When the session needs authorization, the sign-in link is printed; open it
in a browser and keep chatting.

Slash commands are available inside the session; type /help to list them.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	client := cli.NewClient(chatServerURL, chatBackendURL)
	repl := cli.NewREPL(client, chatSessionID)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return repl.Run(ctx)
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatServerURL, "server", "http://localhost:8080", "Tableside server URL")
	chatCmd.Flags().StringVar(&chatBackendURL, "backend", "", "Ordering backend REST URL, enables /menu (e.g. http://localhost:8091)")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Session id to chat under (default: generated)")
}
