package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"tableside/internal/toolclient"
	"tableside/pkg/logging"
)

const (
	// DefaultMaxIterations bounds the tool loop.
	DefaultMaxIterations = 10

	// DefaultTimeout bounds one full loop run.
	DefaultTimeout = 2 * time.Minute
)

// LoopConfig configures the tool loop.
type LoopConfig struct {
	// SystemPrompt is prepended to every conversation.
	SystemPrompt string

	// MaxIterations bounds tool-call rounds per message. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// Timeout bounds one full Run. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Request is one turn of conversation handed to the loop.
type Request struct {
	// History is the prior conversation, oldest first.
	History []Message

	// Text is the inbound user message.
	Text string

	// Client is the session's connected tool client.
	Client toolclient.ToolClient
}

// Result is the outcome of one loop run.
type Result struct {
	// Text is the model's final answer.
	Text string

	// Messages is the full turn transcript appended during the run,
	// including assistant tool calls and tool results, for history keeping.
	Messages []Message

	// Usage is the accumulated token usage over all iterations.
	Usage TokenUsage

	// Iterations is how many completion rounds ran.
	Iterations int
}

// Loop drives the completion engine through tool calls until the model
// produces a final answer.
type Loop struct {
	provider Provider
	config   LoopConfig
}

// NewLoop creates a tool loop over the given provider.
func NewLoop(provider Provider, cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Loop{provider: provider, config: cfg}
}

// Run executes one conversational turn. Tool calls requested by the model
// are executed against req.Client and their results fed back until the
// model answers in plain text or the iteration bound is hit.
//
// Authorization failures from the tool client propagate unwrapped so the
// caller can regress the session.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	tools, err := l.listTools(ctx, req.Client)
	if err != nil {
		return Result{}, err
	}

	messages := make([]Message, 0, len(req.History)+2)
	if l.config.SystemPrompt != "" {
		messages = append(messages, Message{Role: MessageRoleSystem, Content: l.config.SystemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: MessageRoleUser, Content: req.Text})

	turnStart := len(messages) - 1

	var usage TokenUsage

	for i := 0; i < l.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		resp, err := l.provider.Complete(ctx, CompletionRequest{
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return Result{}, err
		}
		usage.add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, Message{Role: MessageRoleAssistant, Content: resp.Content})
			return Result{
				Text:       resp.Content,
				Messages:   messages[turnStart:],
				Usage:      usage,
				Iterations: i + 1,
			}, nil
		}

		messages = append(messages, Message{
			Role:      MessageRoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result, callErr := l.executeTool(ctx, req.Client, call)
			if callErr != nil {
				// Authorization failures abort the turn so the session can
				// regress; anything else is folded back to the model as an
				// error result, letting it recover or apologize.
				if toolclient.IsAuthError(callErr) {
					return Result{}, callErr
				}
				result = Message{
					Role:    MessageRoleTool,
					ToolID:  call.ID,
					Content: fmt.Sprintf("tool %s failed: %v", call.Name, callErr),
					IsError: true,
				}
			}
			messages = append(messages, result)
		}
	}

	return Result{Usage: usage, Iterations: l.config.MaxIterations}, ErrMaxIterationsReached
}

// listTools fetches the tool manifest from the connected client and converts
// it to the provider's tool definitions.
func (l *Loop) listTools(ctx context.Context, client toolclient.ToolClient) ([]ToolDefinition, error) {
	mcpTools, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]ToolDefinition, 0, len(mcpTools))
	for _, t := range mcpTools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			logging.Warn("Engine", "Skipping tool %s with unmarshalable schema: %v", t.Name, err)
			continue
		}
		tools = append(tools, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return tools, nil
}

// executeTool runs a single tool call against the client and converts the
// result into a tool message.
func (l *Loop) executeTool(ctx context.Context, client toolclient.ToolClient, call ToolCall) (Message, error) {
	var args map[string]interface{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return Message{}, fmt.Errorf("invalid arguments for tool %s: %w", call.Name, err)
		}
	}

	result, err := client.CallTool(ctx, call.Name, args)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Role:    MessageRoleTool,
		ToolID:  call.ID,
		Content: flattenContent(result),
		IsError: result.IsError,
	}, nil
}

// flattenContent joins a tool result's text blocks into one string.
func flattenContent(result *mcp.CallToolResult) string {
	var text string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			if text != "" {
				text += "\n"
			}
			text += textContent.Text
		}
	}
	return text
}
