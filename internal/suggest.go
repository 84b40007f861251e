package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrSuggestUnavailable = errors.New("suggestion service not configured")

// SuggestClient asks an external workflow for a reply suggestion based
// on the tail of a conversation. The endpoint receives the recent
// messages and answers with a single suggested reply.
type SuggestClient struct {
	url    string
	client *http.Client
}

func NewSuggestClient(url string) *SuggestClient {
	return &SuggestClient{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type suggestRequest struct {
	ChatID   string        `json:"chat_id"`
	Messages []ChatMessage `json:"messages"`
}

type suggestResponse struct {
	Suggestion string `json:"suggestion"`
}

// Suggest posts up to the last 20 messages and returns the suggestion.
func (c *SuggestClient) Suggest(ctx context.Context, chatID string, history []ChatMessage) (string, error) {
	if c == nil || c.url == "" {
		return "", ErrSuggestUnavailable
	}
	if len(history) > 20 {
		history = history[len(history)-20:]
	}
	body, err := json.Marshal(suggestRequest{ChatID: chatID, Messages: history})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("suggest webhook: status %d", resp.StatusCode)
	}
	var out suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	suggestion := strings.TrimSpace(out.Suggestion)
	if suggestion == "" {
		return "", errors.New("suggest webhook: empty suggestion")
	}
	return suggestion, nil
}
