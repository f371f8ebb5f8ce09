package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxWebhookContent caps the text body; chat robots reject longer messages.
const MaxWebhookContent = 2048

// WebhookChannel mirrors the digest summary into a chat robot.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(c *WebhookChannel) {
		if client != nil {
			c.client = client
		}
	}
}

type robotMessage struct {
	MsgType string    `json:"msgtype"`
	Text    robotText `json:"text"`
}

type robotText struct {
	Content string `json:"content"`
}

// robotReply is what chat robots answer with a 200 status.
type robotReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	c := &WebhookChannel{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send posts the subject line and text summary as one robot text message.
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(robotMessage{MsgType: "text", Text: robotText{Content: robotContent(msg)}})
	if err != nil {
		return fmt.Errorf("webhook channel: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook channel: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel: post: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var reply robotReply
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &reply) == nil && reply.ErrCode != 0 {
		return fmt.Errorf("webhook channel: robot error %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}

func robotContent(msg Message) string {
	var parts []string
	for _, s := range []string{msg.Subject, msg.Text} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	content := strings.Join(parts, "\n")
	if len(content) <= MaxWebhookContent {
		return content
	}
	const ellipsis = "..."
	cut := MaxWebhookContent - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + ellipsis
}
