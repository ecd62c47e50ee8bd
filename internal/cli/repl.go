package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	pkgstrings "tableside/pkg/strings"
)

// REPL is the interactive chat loop against a running tableside server.
type REPL struct {
	client    *Client
	sessionID string
	rl        *readline.Instance
}

// NewREPL creates a chat REPL. An empty sessionID gets a generated one.
func NewREPL(client *Client, sessionID string) *REPL {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &REPL{client: client, sessionID: sessionID}
}

// SessionID returns the session identifier the REPL converses under.
func (r *REPL) SessionID() string {
	return r.sessionID
}

// Run drives the REPL until the user exits or the context is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".tableside_chat_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            text.FgCyan.Sprint("you") + " > ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	fmt.Printf("Chatting as session %s. Type /help for commands, Ctrl+D to exit.\n\n", r.sessionID)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			fmt.Println("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done := r.executeCommand(ctx, input); done {
				fmt.Println("Goodbye!")
				return nil
			}
			continue
		}

		r.sendMessage(ctx, input)
	}
}

// sendMessage posts one chat message and renders the reply.
func (r *REPL) sendMessage(ctx context.Context, message string) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " thinking..."
	s.Start()

	reply, err := r.client.Send(ctx, r.sessionID, message)
	s.Stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", text.FgRed.Sprint("Error:"), err)
		return
	}

	fmt.Printf("%s > %s\n", text.FgGreen.Sprint("assistant"), reply.Text)
	if reply.AuthorizationRequired {
		fmt.Printf("\n%s %s\n\n", text.FgYellow.Sprint("Sign in to continue:"), reply.AuthorizationURL)
	}
}

// executeCommand handles slash commands. It returns true when the REPL
// should exit.
func (r *REPL) executeCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /menu [category]  Show the menu")
		fmt.Println("  /session          Show the current session id")
		fmt.Println("  /new              Start a fresh session")
		fmt.Println("  /end              End the session on the server")
		fmt.Println("  /quit             Exit")
	case "/menu":
		category := ""
		if len(fields) > 1 {
			category = fields[1]
		}
		r.showMenu(ctx, category)
	case "/session":
		fmt.Println(r.sessionID)
	case "/new":
		r.sessionID = uuid.NewString()
		fmt.Printf("Started new session %s\n", r.sessionID)
	case "/end":
		if err := r.client.EndSession(ctx, r.sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", text.FgRed.Sprint("Error:"), err)
			return false
		}
		fmt.Println("Session ended.")
		return true
	case "/quit", "/exit":
		return true
	default:
		fmt.Printf("Unknown command %q. Type /help for commands.\n", fields[0])
	}
	return false
}

// showMenu renders the backend menu as a table.
func (r *REPL) showMenu(ctx context.Context, category string) {
	items, err := r.client.Menu(ctx, category)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", text.FgRed.Sprint("Error:"), err)
		return
	}
	if len(items) == 0 {
		fmt.Println("No items found.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Category", "Price", "Description"})
	for _, item := range items {
		t.AppendRow(table.Row{
			item.ID,
			item.Name,
			item.Category,
			formatPrice(item.PriceCents),
			pkgstrings.TruncateDescription(item.Description, pkgstrings.DefaultDescriptionMaxLen),
		})
	}
	t.Render()
}

func formatPrice(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
