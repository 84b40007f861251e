package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a message event for participants who are not
// connected when the message lands.
type Notifier interface {
	NotifyMessage(ctx context.Context, userID int64, msg ChatMessage) error
}

type NopNotifier struct{}

func (NopNotifier) NotifyMessage(context.Context, int64, ChatMessage) error { return nil }

// WebhookNotifier POSTs message events to an external endpoint, for
// wiring up push delivery without coupling the server to a provider.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *logrus.Entry
}

func NewWebhookNotifier(url string, log *logrus.Entry) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

type notifyPayload struct {
	UserID  int64       `json:"user_id"`
	Message ChatMessage `json:"message"`
}

func (n *WebhookNotifier) NotifyMessage(ctx context.Context, userID int64, msg ChatMessage) error {
	body, err := json.Marshal(notifyPayload{UserID: userID, Message: msg})
	if err != nil {
		return err
	}
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
		return fmt.Errorf("notify webhook: status %d", resp.StatusCode)
	}
	return nil
}
