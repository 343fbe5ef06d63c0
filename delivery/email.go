package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig is the JSON config for the SMTP email sender.
type EmailConfig struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	// Username and Password enable PLAIN auth. Leave both empty for an
	// unauthenticated relay.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// EmailFactory returns the Factory for the SMTP email sender.
//
// Config example:
//
//	{"host": "smtp.example.com", "port": 587, "from": "warden@example.com", "to": "me@example.com"}
func EmailFactory() Factory {
	return func(config json.RawMessage) (Sender, error) {
		var cfg EmailConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("email: parse config: %w", err)
		}
		if cfg.Host == "" {
			return nil, fmt.Errorf("email: host is required")
		}
		if cfg.From == "" || cfg.To == "" {
			return nil, fmt.Errorf("email: from and to are required")
		}
		if cfg.Port <= 0 {
			cfg.Port = 587
		}
		return &emailSender{config: cfg, send: smtp.SendMail}, nil
	}
}

type emailSender struct {
	config EmailConfig

	// send is smtp.SendMail in production, swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (e *emailSender) Name() string { return "email" }

func (e *emailSender) SendBatch(ctx context.Context, batch []Closure) error {
	if len(batch) == 0 {
		return nil
	}
	subject := fmt.Sprintf("Tab warden: closed %d unread tab(s)", len(batch))
	return e.deliver(ctx, e.config.To, subject, batchBody(batch))
}

func (e *emailSender) SendTest(ctx context.Context, recipient string) error {
	to := recipient
	if to == "" {
		to = e.config.To
	}
	return e.deliver(ctx, to, "Tab warden test message",
		"This is a test message confirming your email delivery settings work.\r\n")
}

// batchBody renders one closure per line, oldest first.
func batchBody(batch []Closure) string {
	var b strings.Builder
	b.WriteString("The following tabs were open past their threshold and judged unread:\r\n\r\n")
	for _, c := range batch {
		fmt.Fprintf(&b, "- %s\r\n  %s (closed %s)\r\n",
			c.Title, c.URL, c.ClosedAt.Format(time.RFC3339))
	}
	return b.String()
}

func (e *emailSender) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return &ErrSendFailed{Sender: e.Name(), Cause: err}
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{to}, []byte(msg.String())); err != nil {
		return &ErrSendFailed{Sender: e.Name(), Cause: fmt.Errorf("smtp send: %w", err)}
	}
	return nil
}
