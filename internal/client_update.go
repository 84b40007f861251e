package internal

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"pulsechat/internal/presence"
)

type (
	signupDoneMsg struct{ err error }
	loginDoneMsg  struct {
		resp *loginResponse
		err  error
	}
	logoutDoneMsg struct{ err error }
	chatsMsg      struct {
		chats []chatDTO
		err   error
	}
	chatCreatedMsg struct {
		chat *chatDTO
		err  error
	}
	historyMsg struct {
		chatID   string
		messages []messageDTO
		err      error
	}
	presenceMsg      presence.ChatPresence
	connectedMsg     struct{}
	incomingMsg      ChatMessage
	errorMsg         error
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	suggestMsg       struct {
		text string
		err  error
	}
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(typedMessage)

	case signupDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.pushNotice("Signup failed: " + typedMessage.err.Error())
			model.mode = modeAuthMenu
			return model, nil
		}
		model.pushNotice("Account created. Log in to continue.")
		model.mode = modeAuthMenu
		return model, nil

	case loginDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.pushNotice("Login failed: " + typedMessage.err.Error())
			model.mode = modeAuthMenu
			return model, nil
		}
		model.username = typedMessage.resp.Username
		model.displayName = typedMessage.resp.DisplayName
		model.userID = typedMessage.resp.UserID
		model.token = typedMessage.resp.Token
		_ = saveSessionToDisk(model.config.SessionPath, sessionFile{
			Username: model.username,
			UserID:   model.userID,
			Token:    model.token,
		})
		if err := model.startPresence(); err != nil {
			model.pushNotice(err.Error())
		}
		model.mode = modeChatList
		model.loading = true
		model.textInput.Blur()
		model.textInput.Prompt = ""
		model.textInput.EchoMode = textinput.EchoNormal
		return model, tea.Batch(model.listChatsCmd(), model.waitPresenceCmd())

	case logoutDoneMsg:
		return model, tea.Quit

	case chatsMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.pushNotice("Could not load chats: " + typedMessage.err.Error())
			return model, nil
		}
		model.chats = typedMessage.chats
		if model.selectedChat >= len(model.chats) {
			model.selectedChat = 0
		}
		// point the aggregator at the chat under the cursor
		if chat := model.selectedChatDTO(); chat != nil {
			return model, model.setChatCmd(chat.ID, chat.Participants)
		}
		return model, nil

	case chatCreatedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.pushNotice("Could not create chat: " + typedMessage.err.Error())
			model.mode = modeChatList
			return model, nil
		}
		model.mode = modeChatList
		model.textInput.Blur()
		model.textInput.Prompt = ""
		return model, model.listChatsCmd()

	case historyMsg:
		if typedMessage.err != nil {
			model.pushNotice("History unavailable: " + typedMessage.err.Error())
			return model, nil
		}
		if model.currentChat == nil || model.currentChat.ID != typedMessage.chatID {
			return model, nil
		}
		model.messages = model.messages[:0]
		for _, m := range typedMessage.messages {
			model.messages = append(model.messages, ChatMessage{
				Chat: typedMessage.chatID,
				User: m.User,
				Body: m.Body,
				Ts:   m.Ts,
			})
		}
		return model, nil

	case presenceMsg:
		aggregate := presence.ChatPresence(typedMessage)
		model.presenceByChat[aggregate.ChatID] = aggregate
		return model, model.waitPresenceCmd()

	case connectedMsg:
		model.isConnected = true
		model.connectionError = nil
		return model, model.readOnceCmd()

	case incomingMsg:
		model.messages = append(model.messages, ChatMessage(typedMessage))
		return model, model.readOnceCmd()

	case errorMsg:
		model.isConnected = false
		model.connectionError = typedMessage
		if model.mode == modeChat {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if model.mode == modeChat {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case suggestMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.pushNotice("No suggestion: " + typedMessage.err.Error())
			return model, nil
		}
		model.textInput.SetValue(typedMessage.text)
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyCtrlC {
		model.closeWebsocket("client quit")
		return model, tea.Quit
	}

	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			model.authIntent = authIntentLogin
			return model, model.promptFor(modeAuthUsername, "Enter username", "user> ")
		case "2", "s", "S":
			model.authIntent = authIntentSignup
			return model, model.promptFor(modeAuthUsername, "Enter username", "user> ")
		case "q", "Q":
			return model, tea.Quit
		}
		return model, nil

	case modeAuthUsername:
		switch key.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.pendingName = trimmed
			cmd := model.promptFor(modeAuthPassword, "Enter password", "pass> ")
			model.textInput.EchoMode = textinput.EchoPassword
			return model, cmd
		case tea.KeyEsc:
			return model, model.backToAuthMenu()
		}

	case modeAuthPassword:
		switch key.Type {
		case tea.KeyEnter:
			password := model.textInput.Value()
			if strings.TrimSpace(password) == "" {
				return model, nil
			}
			model.textInput.SetValue("")
			model.loading = true
			if model.authIntent == authIntentSignup {
				return model, model.signupCmd(model.pendingName, password, model.pendingName)
			}
			return model, model.loginCmd(model.pendingName, password)
		case tea.KeyEsc:
			model.textInput.EchoMode = textinput.EchoNormal
			return model, model.backToAuthMenu()
		}

	case modeChatList:
		switch key.String() {
		case "up", "k":
			if model.selectedChat > 0 {
				model.selectedChat--
				if chat := model.selectedChatDTO(); chat != nil {
					return model, model.setChatCmd(chat.ID, chat.Participants)
				}
			}
			return model, nil
		case "down", "j":
			if model.selectedChat < len(model.chats)-1 {
				model.selectedChat++
				if chat := model.selectedChatDTO(); chat != nil {
					return model, model.setChatCmd(chat.ID, chat.Participants)
				}
			}
			return model, nil
		case "enter":
			chat := model.selectedChatDTO()
			if chat == nil {
				return model, nil
			}
			model.currentChat = chat
			model.messages = nil
			model.connectionError = nil
			model.mode = modeChat
			model.textInput.Placeholder = "Type a message…"
			model.textInput.Prompt = "> "
			focusCmd := model.textInput.Focus()
			return model, tea.Batch(focusCmd,
				model.historyCmd(chat.ID),
				model.setChatCmd(chat.ID, chat.Participants),
				model.connectCmd())
		case "n", "N":
			return model, model.promptFor(modeNewChatName, "Chat name", "name> ")
		case "r", "R":
			model.loading = true
			return model, tea.Batch(model.listChatsCmd(), model.refreshPresenceCmd())
		case "l", "L":
			return model, model.logoutCmd()
		case "q", "Q":
			return model, tea.Quit
		}
		return model, nil

	case modeNewChatName:
		switch key.Type {
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.pendingName = trimmed
			return model, model.promptFor(modeNewChatMembers, "Participant usernames, comma separated", "who> ")
		case tea.KeyEsc:
			return model, model.backToChatList()
		}

	case modeNewChatMembers:
		switch key.Type {
		case tea.KeyEnter:
			raw := strings.Split(model.textInput.Value(), ",")
			participants := make([]string, 0, len(raw))
			for _, p := range raw {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					participants = append(participants, trimmed)
				}
			}
			model.loading = true
			model.textInput.SetValue("")
			return model, model.createChatCmd(model.pendingName, participants)
		case tea.KeyEsc:
			return model, model.backToChatList()
		}

	case modeChat:
		switch key.Type {
		case tea.KeyEsc:
			model.closeWebsocket("leaving chat")
			model.currentChat = nil
			return model, model.backToChatList()
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if strings.HasPrefix(trimmed, "/") {
				return model.handleSlashCommand(strings.ToLower(trimmed))
			}
			if trimmed != "" && model.isConnected && model.currentChat != nil {
				chat := ChatMessage{
					Chat: model.currentChat.ID,
					User: model.username,
					Body: trimmed,
					Ts:   time.Now().Unix(),
				}
				return model, model.sendCmd(chat)
			}
		}
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) handleSlashCommand(command string) (tea.Model, tea.Cmd) {
	switch command {
	case "/quit", "/exit":
		model.closeWebsocket("client quit")
		return model, tea.Quit
	case "/leave":
		model.closeWebsocket("leaving chat")
		model.currentChat = nil
		return model, model.backToChatList()
	case "/suggest":
		if model.currentChat == nil {
			return model, nil
		}
		model.loading = true
		model.textInput.SetValue("")
		return model, model.suggestCmd(model.currentChat.ID, model.messages)
	case "/refresh":
		model.textInput.SetValue("")
		return model, model.refreshPresenceCmd()
	}
	return model, nil
}

func (model *TUIModel) promptFor(mode appMode, placeholder, prompt string) tea.Cmd {
	model.mode = mode
	model.textInput.SetValue("")
	model.textInput.Placeholder = placeholder
	model.textInput.Prompt = prompt
	return model.textInput.Focus()
}

func (model *TUIModel) backToAuthMenu() tea.Cmd {
	model.mode = modeAuthMenu
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Placeholder = ""
	model.textInput.Prompt = ""
	return nil
}

func (model *TUIModel) backToChatList() tea.Cmd {
	model.mode = modeChatList
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Placeholder = ""
	model.textInput.Prompt = ""
	if chat := model.selectedChatDTO(); chat != nil {
		return model.setChatCmd(chat.ID, chat.Participants)
	}
	return nil
}
