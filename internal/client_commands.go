package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"pulsechat/internal/presence"
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) signupCmd(username, password, displayName string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		return signupDoneMsg{err: apiSignup(base, username, password, displayName)}
	}
}

func (model *TUIModel) loginCmd(username, password string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		resp, err := apiLogin(base, username, password)
		return loginDoneMsg{resp: resp, err: err}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	base, token, path := model.httpBase, model.token, model.config.SessionPath
	return func() tea.Msg {
		err := apiLogout(base, token)
		_ = deleteSessionFile(path)
		return logoutDoneMsg{err: err}
	}
}

func (model *TUIModel) listChatsCmd() tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		chats, err := apiListChats(base, token)
		return chatsMsg{chats: chats, err: err}
	}
}

func (model *TUIModel) createChatCmd(name string, participants []string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		chat, err := apiCreateChat(base, token, name, participants)
		return chatCreatedMsg{chat: chat, err: err}
	}
}

func (model *TUIModel) historyCmd(chatID string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		messages, err := apiMessages(base, token, chatID, 50)
		return historyMsg{chatID: chatID, messages: messages, err: err}
	}
}

// waitPresenceCmd parks on the aggregator's publish channel and turns
// each aggregate into a tea message. Re-armed after every receipt.
func (model *TUIModel) waitPresenceCmd() tea.Cmd {
	ch := model.presenceCh
	return func() tea.Msg {
		return presenceMsg(<-ch)
	}
}

// setChatCmd runs the aggregator switch off the UI goroutine; SetChat
// does synchronous fetching on a cold cache.
func (model *TUIModel) setChatCmd(chatID string, participants []string) tea.Cmd {
	agg := model.aggregator
	return func() tea.Msg {
		if agg == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		agg.SetChat(ctx, chatID, participants)
		return nil
	}
}

func (model *TUIModel) refreshPresenceCmd() tea.Cmd {
	agg := model.aggregator
	return func() tea.Msg {
		if agg == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		agg.Refresh(ctx)
		return nil
	}
}

func (model *TUIModel) suggestCmd(chatID string, history []ChatMessage) tea.Cmd {
	client := model.suggest
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		text, err := client.Suggest(ctx, chatID, history)
		return suggestMsg{text: text, err: err}
	}
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		if model.currentChat == nil {
			return connectFailedMsg{err: fmt.Errorf("no chat selected")}
		}
		joinURL, err := buildJoinURL(model.config.JoinURL, model.currentChat.ID, model.token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		model.websocketConn = conn
		return connectedMsg{}
	}
}

// if the payload is JSON we turn it into a ChatMessage
func (model *TUIModel) readOnceCmd() tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return errorMsg(fmt.Errorf("websocket not connected"))
		}
		messageType, payload, err := model.websocketConn.ReadMessage()
		if err != nil {
			return errorMsg(err)
		}
		if messageType != websocket.TextMessage {
			return nil
		}
		var chat ChatMessage
		if err := json.Unmarshal(payload, &chat); err == nil {
			return incomingMsg(chat)
		}
		chat = ChatMessage{User: "server", Body: string(payload), Ts: time.Now().Unix()}
		return incomingMsg(chat)
	}
}

func (model *TUIModel) sendCmd(chat ChatMessage) tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return errorMsg(fmt.Errorf("websocket not connected"))
		}
		encoded, err := json.Marshal(chat)
		if err != nil {
			return errorMsg(err)
		}
		model.writeMutex.Lock()
		err = model.websocketConn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return errorMsg(err)
		}
		model.textInput.SetValue("")
		return nil
	}
}

func (model *TUIModel) closeWebsocket(reason string) {
	if model.websocketConn == nil {
		return
	}
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}

// RunTUI is the bubbletea entry point.
func RunTUI(config ClientConfig) error {
	model, err := NewTUIModel(config)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model)
	_, err = program.Run()
	if model.aggregator != nil {
		model.aggregator.Close()
	}
	return err
}

func buildJoinURL(base, chatID, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("chat", chatID)
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// badgeFor renders the "N/M online" badge for a chat, if an aggregate
// has been published for it.
func (model *TUIModel) badgeFor(chatID string) string {
	if p, ok := model.presenceByChat[chatID]; ok {
		return presence.Summary(p)
	}
	return ""
}
