// Package delivery provides best-effort outbound delivery of closure
// batches: an SMTP email sender, an HMAC-signed chat webhook, and a local
// export-log writer. Senders are built from per-platform JSON config
// blocks, so enabling an integration is a configuration change, not a
// code path.
//
//	senders, _ := delivery.FromConfig(map[string]json.RawMessage{
//		"chat": []byte(`{"webhook_url": "https://chat.example/hook"}`),
//	}, logger)
//
// Every sender is independently fallible; callers log ErrSendFailed and
// carry on. A chat outage must never block the email path or the closure
// that triggered the batch.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Closure is one closed tab as handed to the delivery adapters.
type Closure struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	ClosedAt time.Time `json:"closed_at"`
}

// Sender delivers closure batches to one external destination.
type Sender interface {
	// Name identifies the platform ("email", "chat").
	Name() string

	// SendBatch delivers one batch, oldest closure first.
	SendBatch(ctx context.Context, batch []Closure) error

	// SendTest delivers a short probe message. recipient overrides the
	// configured destination where the platform supports that (email);
	// for chat it is used as the message text.
	SendTest(ctx context.Context, recipient string) error
}

// Factory builds a Sender from its JSON config block.
type Factory func(config json.RawMessage) (Sender, error)

// ErrSendFailed wraps a delivery failure with the sender that produced it.
type ErrSendFailed struct {
	Sender string
	Cause  error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("delivery: send failed on %s: %v", e.Sender, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// factories maps platform names to their builders.
func factories() map[string]Factory {
	return map[string]Factory{
		"email": EmailFactory(),
		"chat":  ChatFactory(),
	}
}

// FromConfig builds the sender set from a platform→config map. Unknown
// platforms are skipped with a warning so a stale settings document cannot
// take the daemon down; a malformed config for a known platform is an error.
func FromConfig(cfgs map[string]json.RawMessage, log *slog.Logger) ([]Sender, error) {
	if log == nil {
		log = slog.Default()
	}
	fs := factories()

	var senders []Sender
	for platform, raw := range cfgs {
		f, ok := fs[platform]
		if !ok {
			log.Warn("delivery: no factory for platform", "platform", platform)
			continue
		}
		s, err := f(raw)
		if err != nil {
			return nil, fmt.Errorf("delivery: build %s: %w", platform, err)
		}
		senders = append(senders, s)
	}
	return senders, nil
}
