// Package webhook posts finished report bodies to chat webhooks as card
// payloads. Delivery is best effort: a failed hook logs and never fails the
// report run that produced the body.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reportline/internal/config"
)

const defaultTimeout = 10 * time.Second

// Sender delivers report bodies to the configured webhooks.
type Sender struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
	Log    *slog.Logger
}

// New creates a sender over the configured hooks.
func New(hooks []config.WebhookConfig) *Sender {
	return &Sender{
		Hooks:  hooks,
		Client: &http.Client{Timeout: defaultTimeout},
		Log:    slog.Default(),
	}
}

// cardPayload is the chat card envelope the webhook consumer renders.
type cardPayload struct {
	Cards []card `json:"cards"`
}

type card struct {
	Sections []section `json:"sections"`
}

type section struct {
	Widgets []widget `json:"widgets"`
}

type widget struct {
	TextParagraph textParagraph `json:"textParagraph"`
}

type textParagraph struct {
	Text string `json:"text"`
}

// Send posts the report body to every enabled hook. Returns the number of
// successful deliveries; failures are logged per hook.
func (s *Sender) Send(ctx context.Context, body string) int {
	payload := cardPayload{Cards: []card{{Sections: []section{{Widgets: []widget{{
		TextParagraph: textParagraph{Text: chatBody(body)},
	}}}}}}}
	data, err := json.Marshal(payload)
	if err != nil {
		s.Log.Warn("webhook payload marshal failed", "err", err)
		return 0
	}

	delivered := 0
	for i, hook := range s.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := s.post(ctx, hook, data); err != nil {
			s.Log.Warn("webhook delivery failed", "hook", i, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (s *Sender) post(ctx context.Context, hook config.WebhookConfig, data []byte) error {
	client := s.Client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// chatBody adapts the report body for chat rendering: the missing-update
// marker is bolded so it stands out in a card.
func chatBody(body string) string {
	return strings.ReplaceAll(body, "⚠️ Missing status update", "⚠️ <b>Missing status update</b>")
}
