package internal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"pulsechat/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades an authenticated participant onto their chat room.
// The first concurrent connection flips the user online; the last one
// dropping flips them offline.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	chatID := r.URL.Query().Get("chat")
	if chatID == "" {
		http.Error(w, "missing chat query param", http.StatusBadRequest)
		return
	}
	member, err := s.store.IsParticipant(r.Context(), chatID, authCtx.UserID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}

	user := &storage.User{ID: authCtx.UserID, Username: authCtx.Username, DisplayName: authCtx.DisplayName}
	room := s.hub.getOrCreateRoom(chatID)
	client := newClient(room, conn, authCtx.Username, authCtx.UserID,
		func(msg ChatMessage) { s.persistMessage(msg, authCtx.UserID) },
		func() {
			s.metrics.DecConn()
			if s.tracker.Disconnect(authCtx.UserID) {
				s.markOffline(user)
			}
		})
	room.register <- client

	s.metrics.IncConn()
	if s.tracker.Connect(authCtx.UserID) {
		s.markOnline(r.Context(), user)
	}

	go client.writePump()
	go client.readPump(s.hub, chatID)
}

// persistMessage stores a broadcast message and pings participants who
// have no live connection.
func (s *Server) persistMessage(msg ChatMessage, senderID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.store.SaveMessage(ctx, msg.Chat, senderID, msg.Body, time.Unix(msg.Ts, 0)); err != nil {
		s.log.WithError(err).WithField("chat", msg.Chat).Error("persist message")
		return
	}
	s.metrics.IncMessage()

	chat, err := s.store.GetChat(ctx, msg.Chat)
	if err != nil || chat == nil {
		return
	}
	for _, participantID := range chat.Participants {
		if participantID == senderID || s.tracker.Online(participantID) {
			continue
		}
		go func(id int64) {
			nctx, ncancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ncancel()
			if err := s.notifier.NotifyMessage(nctx, id, msg); err != nil {
				s.log.WithError(err).WithField("user_id", id).Warn("notify")
			}
		}(participantID)
	}
}

// ServeWatch streams availability changes for one user over a
// websocket. The current status is sent first, then every transition
// as it happens.
func (s *Server) ServeWatch(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateRequest(r); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	watchedID := r.URL.Query().Get("user")
	if watchedID == "" {
		http.Error(w, "missing user query param", http.StatusBadRequest)
		return
	}
	numericID, err := strconv.ParseInt(watchedID, 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	user, err := s.store.GetUserByID(r.Context(), numericID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("watch upgrade")
		return
	}

	updates, cancel := s.broker.Subscribe(watchedID)
	go s.watchWritePump(conn, user, updates)

	// Drain reads so pongs are processed and a peer close tears down
	// the subscription.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMsgSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) watchWritePump(conn *websocket.Conn, user *storage.User, updates <-chan StatusUpdate) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	initial := StatusUpdate{
		UserID:      strconv.FormatInt(user.ID, 10),
		Online:      user.IsOnline,
		DisplayName: user.DisplayName,
	}
	if !user.LastSeen.IsZero() {
		initial.LastSeen = user.LastSeen.Unix()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	for {
		select {
		case update, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
