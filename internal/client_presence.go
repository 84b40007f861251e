package internal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulsechat/internal/presence"
)

// statusFetcher implements presence.Fetcher against the batch
// GET /users/status endpoint.
type statusFetcher struct {
	baseURL string
	token   string
}

func newStatusFetcher(baseURL, token string) *statusFetcher {
	return &statusFetcher{baseURL: baseURL, token: token}
}

func (f *statusFetcher) FetchUsers(ctx context.Context, ids []string) ([]presence.UserSnapshot, error) {
	updates, err := apiUserStatuses(f.baseURL, f.token, ids)
	if err != nil {
		return nil, err
	}
	snapshots := make([]presence.UserSnapshot, 0, len(updates))
	for _, u := range updates {
		snapshot := presence.UserSnapshot{
			UserID:      u.UserID,
			Online:      u.Online,
			DisplayName: u.DisplayName,
		}
		if u.LastSeen > 0 {
			snapshot.LastSeen = time.Unix(u.LastSeen, 0)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// statusWatcher implements presence.Watcher by holding one /watch
// websocket per subscribed user.
type statusWatcher struct {
	wsBase string
	token  string
}

func newStatusWatcher(httpBase, token string) (*statusWatcher, error) {
	wsBase, err := wsBaseFromHTTP(httpBase)
	if err != nil {
		return nil, err
	}
	return &statusWatcher{wsBase: wsBase, token: token}, nil
}

func wsBaseFromHTTP(httpBase string) (string, error) {
	parsed, err := url.Parse(httpBase)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

func (w *statusWatcher) Subscribe(userID string, update func(presence.UserSnapshot), fail func(error)) (func(), error) {
	endpoint := fmt.Sprintf("%s/watch?user=%s&token=%s",
		w.wsBase, url.QueryEscape(userID), url.QueryEscape(w.token))
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", userID, err)
	}

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		})
	}

	go func() {
		for {
			var snapshot presence.UserSnapshot
			if err := conn.ReadJSON(&snapshot); err != nil {
				select {
				case <-done:
				default:
					fail(err)
				}
				return
			}
			select {
			case <-done:
				return
			default:
				update(snapshot)
			}
		}
	}()
	return cancel, nil
}
