package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChatConfig is the JSON config for the chat webhook sender.
type ChatConfig struct {
	// WebhookURL is the endpoint closures are POSTed to.
	WebhookURL string `json:"webhook_url"`
	// Secret is an optional shared secret. When set, outbound payloads
	// carry an X-Signature-256 header with the hex-encoded HMAC-SHA256 of
	// the body, GitHub-style ("sha256=" prefix).
	Secret string `json:"secret,omitempty"`
	// TimeoutSeconds bounds each POST. Defaults to 15.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// ChatFactory returns the Factory for the chat webhook sender.
//
// Config example:
//
//	{"webhook_url": "https://chat.example/hook", "secret": "hmac_key"}
func ChatFactory() Factory {
	return func(config json.RawMessage) (Sender, error) {
		var cfg ChatConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("chat: parse config: %w", err)
		}
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("chat: webhook_url is required")
		}
		if cfg.TimeoutSeconds <= 0 {
			cfg.TimeoutSeconds = 15
		}
		return &chatSender{
			config: cfg,
			client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		}, nil
	}
}

type chatSender struct {
	config ChatConfig
	client *http.Client
}

func (c *chatSender) Name() string { return "chat" }

// chatPayload is the wire shape POSTed to the webhook.
type chatPayload struct {
	Text     string    `json:"text"`
	Closures []Closure `json:"closures,omitempty"`
}

func (c *chatSender) SendBatch(ctx context.Context, batch []Closure) error {
	if len(batch) == 0 {
		return nil
	}
	text := fmt.Sprintf("Closed %d unread tab(s)", len(batch))
	if len(batch) == 1 {
		text = fmt.Sprintf("Closed unread tab: %s", batch[0].Title)
	}
	return c.post(ctx, chatPayload{Text: text, Closures: batch})
}

func (c *chatSender) SendTest(ctx context.Context, recipient string) error {
	text := recipient
	if text == "" {
		text = "Tab warden test message"
	}
	return c.post(ctx, chatPayload{Text: text})
}

func (c *chatSender) post(ctx context.Context, payload chatPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ErrSendFailed{Sender: c.Name(), Cause: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Sender: c.Name(), Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	// Sign the outbound payload if a secret is configured.
	if c.config.Secret != "" {
		mac := hmac.New(sha256.New, []byte(c.config.Secret))
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ErrSendFailed{Sender: c.Name(), Cause: fmt.Errorf("webhook POST: %w", err)}
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ErrSendFailed{Sender: c.Name(), Cause: fmt.Errorf("webhook returned %d", resp.StatusCode)}
	}
	return nil
}
