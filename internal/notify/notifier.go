package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const (
	CategoryExpired       = "expired"
	CategoryExpiryWarning = "expiry_warning"
)

// Notifier — граница доставки сообщений пользователю. Вызовы
// fire-and-forget: ошибки логируются, повторами занимается транспорт
// доставки, не мы.
type Notifier interface {
	Notify(ctx context.Context, userID int64, category, message, suggestedAction string) error
}

// WebhookNotifier отправляет уведомление POST-запросом боту (фронтенду)
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID int64, category, message, suggestedAction string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"user_id":          userID,
		"category":         category,
		"message":          message,
		"suggested_action": suggestedAction,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier пишет уведомления в лог; используется, когда webhook не настроен
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID int64, category, message, _ string) error {
	log.Printf("notify user %d [%s]: %s", userID, category, message)
	return nil
}
