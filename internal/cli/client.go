package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds one chat round trip. Tool loops against the
// completion engine can take a while, so this is generous.
const DefaultRequestTimeout = 3 * time.Minute

// ChatReply mirrors the chat server's response body.
type ChatReply struct {
	Text                  string `json:"text"`
	AuthorizationRequired bool   `json:"authorizationRequired,omitempty"`
	AuthorizationURL      string `json:"authorizationUrl,omitempty"`
}

// MenuItem mirrors the backend's menu representation.
type MenuItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	PriceCents  int    `json:"priceCents"`
	Available   bool   `json:"available"`
}

// Client is a thin HTTP client for the chat server and the ordering
// backend's read-only REST surface.
type Client struct {
	serverURL  string
	backendURL string
	httpClient *http.Client
}

// NewClient creates a chat client. backendURL may be empty when the menu
// commands are not needed.
func NewClient(serverURL, backendURL string) *Client {
	return &Client{
		serverURL:  serverURL,
		backendURL: backendURL,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// Send posts one message for the given session and returns the assistant's
// reply.
func (c *Client) Send(ctx context.Context, sessionID, message string) (ChatReply, error) {
	body, err := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"message":   message,
	})
	if err != nil {
		return ChatReply{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatReply{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatReply{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ChatReply{}, fmt.Errorf("chat server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var reply ChatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return ChatReply{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	return reply, nil
}

// Menu fetches the available menu from the backend's REST surface.
func (c *Client) Menu(ctx context.Context, category string) ([]MenuItem, error) {
	if c.backendURL == "" {
		return nil, fmt.Errorf("no backend URL configured")
	}

	url := c.backendURL + "/menu"
	if category != "" {
		url += "?category=" + category
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("menu request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d", resp.StatusCode)
	}

	var items []MenuItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode menu: %w", err)
	}
	return items, nil
}

// EndSession deletes the session on the server, tearing down its connection
// and credentials.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.serverURL+"/api/sessions/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
