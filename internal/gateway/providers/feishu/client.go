package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	tokenURL   = "https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal"
	messageURL = "https://open.feishu.cn/open-apis/im/v1/messages?receive_id_type=chat_id"
)

// Client sends outbound messages through the Feishu Open API, fetching and
// caching a tenant access token as needed.
type Client struct {
	AppID     string
	AppSecret string
	HTTP      *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient builds a Client with a 10s request timeout.
func NewClient(appID, appSecret string) *Client {
	return &Client{AppID: appID, AppSecret: appSecret, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// SendMessage posts text to a chat via the Feishu message API. chatID is
// the Feishu chat_id the bot is already a member of.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("feishu: acquire access token: %w", err)
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("feishu: marshal message content: %w", err)
	}
	payload, err := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	if err != nil {
		return fmt.Errorf("feishu: marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("feishu: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("feishu: send returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{"app_id": c.AppID, "app_secret": c.AppSecret})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Code              int    `json:"code"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Code != 0 {
		return "", fmt.Errorf("feishu auth error code %d", body.Code)
	}

	c.token = body.TenantAccessToken
	c.expiresAt = time.Now().Add(time.Duration(body.Expire-30) * time.Second)
	return c.token, nil
}
