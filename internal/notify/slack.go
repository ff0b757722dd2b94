package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SlackSender sends messages via a Slack incoming webhook URL.
type SlackSender struct {
	Client *http.Client
}

func (s *SlackSender) Type() string { return TypeSlack }

func (s *SlackSender) Send(ctx context.Context, target Target, message string) error {
	if target.WebhookURL == "" {
		return fmt.Errorf("slack target %q missing webhook_url", target.label())
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	payload := map[string]string{"text": message}
	if target.Channel != "" {
		payload["channel"] = target.Channel
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack API returned %d", resp.StatusCode)
	}
	return nil
}
