package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const apiBase = "https://api.telegram.org"

// Client sends outbound messages through the Telegram Bot API. It carries
// no inbound normalization; that is Adapter's job.
type Client struct {
	BotToken string
	HTTP     *http.Client
}

// NewClient builds a Client with a 10s request timeout.
func NewClient(botToken string) *Client {
	return &Client{BotToken: botToken, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// SendMessage posts text to a chat via sendMessage. chatID is the numeric
// or @username chat identifier Telegram expects.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal sendMessage payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", apiBase, c.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram: sendMessage returned status %d", resp.StatusCode)
	}
	return nil
}
