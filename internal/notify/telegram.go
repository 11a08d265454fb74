package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Alerter defines the interface for operator notifications.
// Implementations can be swapped (Telegram, stub) without changing callers.
type Alerter interface {
	Notify(ctx context.Context, text string) error
}

// TelegramConfig holds configuration for the Telegram bot.
type TelegramConfig struct {
	BotToken string
	ChatIDs  []string
	BaseURL  string // Defaults to the public Bot API.
}

// TelegramAlerter delivers alerts to the clinic operator chats via the
// Telegram Bot API. A send failure for one chat does not stop delivery
// to the rest.
type TelegramAlerter struct {
	client  *http.Client
	baseURL string
	token   string
	chatIDs []string
	logger  *logging.Logger
}

// NewTelegramAlerter creates a Telegram alerter. Returns nil when no
// token is configured so callers can fall back to the stub.
func NewTelegramAlerter(cfg TelegramConfig, logger *logging.Logger) *TelegramAlerter {
	if cfg.BotToken == "" || len(cfg.ChatIDs) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	return &TelegramAlerter{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: cfg.BaseURL,
		token:   cfg.BotToken,
		chatIDs: cfg.ChatIDs,
		logger:  logger,
	}
}

// Notify sends the text to every configured operator chat.
func (t *TelegramAlerter) Notify(ctx context.Context, text string) error {
	var lastErr error
	for _, chatID := range t.chatIDs {
		if err := t.sendMessage(ctx, chatID, text); err != nil {
			t.logger.Error("telegram send failed", "error", err, "chat_id", chatID)
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("notify: telegram send failed: %w", lastErr)
	}
	return nil
}

func (t *TelegramAlerter) sendMessage(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// StubAlerter is a no-op alerter for testing or when Telegram is disabled.
type StubAlerter struct {
	logger *logging.Logger
}

// NewStubAlerter creates a stub alerter that logs but doesn't send.
func NewStubAlerter(logger *logging.Logger) *StubAlerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubAlerter{logger: logger}
}

// Notify logs the alert but doesn't actually send it.
func (s *StubAlerter) Notify(ctx context.Context, text string) error {
	s.logger.Info("stub alerter: would notify operators", "text", text)
	return nil
}

// BookingAlert formats the operator message for a new booking.
func BookingAlert(patientName, phone string, startTime time.Time) string {
	if patientName == "" {
		patientName = phone
	}
	return fmt.Sprintf("📅 Nueva cita agendada\nPaciente: %s\nTeléfono: %s\nFecha: %s",
		patientName, phone, startTime.Format("02/01/2006 15:04"))
}

// HandoffAlert formats the operator message when the bot pauses for a chat.
func HandoffAlert(patientName, phone string) string {
	if patientName == "" {
		patientName = phone
	}
	return fmt.Sprintf("✋ Bot pausado por intervención humana\nPaciente: %s\nTeléfono: %s", patientName, phone)
}

// ErrorAlert formats the operator message for a component failure.
func ErrorAlert(component string, err error) string {
	return fmt.Sprintf("🚨 Error en %s\n%v", component, err)
}
