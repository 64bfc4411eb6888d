package notify

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// TelegramSink pushes terminal job outcomes and warnings to a Telegram
// chat. Per-phase progress is intentionally not forwarded; it would
// flood the chat.
type TelegramSink struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSink) Progress(string, string, string, int) {}

func (s *TelegramSink) Warning(kind, jobID, message string) {
	_ = s.send(fmt.Sprintf("⚠️ %s %s: %s", kind, jobID, message))
}

func (s *TelegramSink) Done(kind, jobID string, ok bool, message string) {
	icon := "✅"
	if !ok {
		icon = "❌"
	}
	_ = s.send(fmt.Sprintf("%s %s %s: %s", icon, kind, jobID, message))
}

func (s *TelegramSink) send(message string) error {
	if s.BotToken == "" || s.ChatID == "" {
		return nil // Notification disabled
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.BotToken)

	payload := map[string]string{
		"chat_id": s.ChatID,
		"text":    message,
	}

	jsonData, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	resp, err := s.Client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
