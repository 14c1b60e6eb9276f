// Package client consumes the chat API: it submits messages, parses the
// server-sent event stream into a single in-progress turn, and tracks the
// active conversation for the session.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"spurr-backend/internal/models"
)

type Client struct {
	baseURL        string
	http           *http.Client
	sessionID      string
	conversationID string
}

// Turn is one finalized assistant reply. After Send returns, the turn is
// immutable.
type Turn struct {
	Text           string
	ConversationID string
	Failed         bool
}

func New(baseURL, sessionID string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		sessionID: sessionID,
	}
}

// ConversationID returns the active conversation id, empty before the
// first turn of a new chat.
func (c *Client) ConversationID() string {
	return c.conversationID
}

// Reset starts a new chat: the next Send creates a fresh conversation.
func (c *Client) Reset() {
	c.conversationID = ""
}

// Use makes an existing conversation the active one.
func (c *Client) Use(conversationID string) {
	c.conversationID = conversationID
}

// Send submits text and consumes the reply stream. Each fragment is
// appended to the turn and passed to onFragment as it arrives. A stream
// error event replaces the turn's text with the error message and marks it
// failed; after that, or after the end event, the turn no longer changes.
func (c *Client) Send(ctx context.Context, text string, onFragment func(string)) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message is empty")
	}

	body, err := json.Marshal(models.SendMessageRequest{
		Message:        text,
		ConversationID: c.conversationID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/message", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Id", c.sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	if id := resp.Header.Get("X-Conversation-Id"); id != "" && c.conversationID == "" {
		c.conversationID = id
	}

	turn := &Turn{ConversationID: c.conversationID}
	var full strings.Builder
	finished := false
	adopted := c.conversationID != ""

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var payload struct {
			Text           string `json:"text"`
			ConversationID string `json:"conversationId"`
			Error          string `json:"error"`
		}
		// Malformed frames are skipped, never fatal.
		if json.Unmarshal([]byte(line[len("data: "):]), &payload) != nil {
			continue
		}

		if !adopted && payload.ConversationID != "" {
			c.conversationID = payload.ConversationID
			turn.ConversationID = payload.ConversationID
			adopted = true
		}

		if finished {
			continue
		}

		if payload.Error != "" {
			turn.Text = payload.Error
			turn.Failed = true
			finished = true
			continue
		}

		if payload.Text != "" {
			full.WriteString(payload.Text)
			turn.Text = full.String()
			if onFragment != nil {
				onFragment(payload.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return turn, nil
}

// History fetches the ordered message log of a conversation. Unknown
// conversations come back as an empty list.
func (c *Client) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	var history models.HistoryResponse
	if err := c.getJSON(ctx, "/api/chat/"+conversationID, &history); err != nil {
		return nil, err
	}
	return history.Messages, nil
}

// Conversations lists the session's conversations, newest first.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var summaries []models.ConversationSummary
	if err := c.getJSON(ctx, "/api/chat", &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Session-Id", c.sessionID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var envelope models.ErrorResponse
	if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
