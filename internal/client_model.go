package internal

import (
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"pulsechat/internal/presence"
)

// ClientConfig is everything the TUI needs to reach the server.
type ClientConfig struct {
	JoinURL     string // ws://host/join
	SessionPath string
	SuggestURL  string
}

// TUIModel drives the whole client: auth screens, the chat list with
// live presence badges, and the chat view.
type TUIModel struct {
	config   ClientConfig
	httpBase string

	textInput textinput.Model
	mode      appMode

	// auth state
	authIntent  authIntentType
	pendingName string // username mid-auth, chat name mid-creation
	username    string
	displayName string
	userID      int64
	token       string

	// chat list
	chats        []chatDTO
	selectedChat int

	// presence engine for the selected chat
	presenceCache  *presence.Cache
	aggregator     *presence.Aggregator
	presenceCh     chan presence.ChatPresence
	presenceByChat map[string]presence.ChatPresence

	// active chat
	currentChat     *chatDTO
	messages        []ChatMessage
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error

	suggest *SuggestClient
	loading bool
	notices []string
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeChatList
	modeNewChatName
	modeNewChatMembers
	modeChat
)

type authIntentType int

const (
	authIntentLogin authIntentType = iota
	authIntentSignup
)

func NewTUIModel(config ClientConfig) (*TUIModel, error) {
	httpBase, err := httpBaseFromJoinURL(config.JoinURL)
	if err != nil {
		return nil, err
	}

	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	model := &TUIModel{
		config:         config,
		httpBase:       httpBase,
		textInput:      input,
		mode:           modeAuthMenu,
		presenceCache:  presence.NewCache(),
		presenceCh:     make(chan presence.ChatPresence, 16),
		presenceByChat: make(map[string]presence.ChatPresence),
		suggest:        NewSuggestClient(config.SuggestURL),
	}
	model.textInput.Blur()
	model.textInput.Prompt = ""

	if session, err := loadSessionFromDisk(config.SessionPath); err == nil {
		model.username = session.Username
		model.userID = session.UserID
		model.token = session.Token
		model.mode = modeChatList
		model.loading = true
	}
	return model, nil
}

// startPresence wires the aggregator against the live session. Called
// once credentials are known.
func (model *TUIModel) startPresence() error {
	watcher, err := newStatusWatcher(model.httpBase, model.token)
	if err != nil {
		return err
	}
	fetcher := newStatusFetcher(model.httpBase, model.token)
	model.aggregator = presence.NewAggregator(model.presenceCache, fetcher, watcher, func(p presence.ChatPresence) {
		select {
		case model.presenceCh <- p:
		default:
		}
	})
	return nil
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChatList {
		if err := model.startPresence(); err != nil {
			model.notices = append(model.notices, err.Error())
			return nil
		}
		return tea.Batch(model.listChatsCmd(), model.waitPresenceCmd())
	}
	return nil
}

// selectedChatDTO returns the chat under the cursor, or nil.
func (model *TUIModel) selectedChatDTO() *chatDTO {
	if model.selectedChat < 0 || model.selectedChat >= len(model.chats) {
		return nil
	}
	return &model.chats[model.selectedChat]
}

func (model *TUIModel) pushNotice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > 3 {
		model.notices = model.notices[len(model.notices)-3:]
	}
}
