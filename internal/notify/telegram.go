package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender sends messages via the Telegram Bot API.
type TelegramSender struct {
	Client *http.Client
}

func (s *TelegramSender) Type() string { return TypeTelegram }

func (s *TelegramSender) Send(ctx context.Context, target Target, message string) error {
	if target.ChatID == "" {
		return fmt.Errorf("telegram target %q missing chat_id", target.label())
	}
	if target.Token == "" {
		return fmt.Errorf("telegram target %q missing token", target.label())
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimSuffix(target.APIBase, "/")
	if base == "" {
		base = telegramAPIBase
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", base, target.Token)
	body, _ := json.Marshal(map[string]string{
		"chat_id": target.ChatID,
		"text":    message,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram API returned %d", resp.StatusCode)
	}
	return nil
}
