package storage

import (
	"context"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", "Alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", "", []byte("hash2")); err == nil {
		t.Fatalf("expected duplicate error")
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" || user.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.IsOnline {
		t.Fatalf("new users should start offline")
	}
}

func TestDisplayNameDefaultsToUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, "bob", "", []byte("hash")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	user, _ := store.GetUserByUsername(ctx, "bob")
	if user.DisplayName != "bob" {
		t.Fatalf("expected display name fallback, got %q", user.DisplayName)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", "", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	if err := store.CreateSession(ctx, userID, "token123", exp); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session, err := store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.UserID != userID {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := store.DeleteSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	session, err = store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session after delete")
	}
}

func TestUserOnlineStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, _ := store.CreateUser(ctx, "carol", "", []byte("hash"))

	seen := time.Now().UTC().Truncate(time.Second)
	if err := store.SetUserOnline(ctx, userID, true, seen); err != nil {
		t.Fatalf("SetUserOnline: %v", err)
	}
	user, _ := store.GetUserByID(ctx, userID)
	if !user.IsOnline {
		t.Fatalf("expected online")
	}
	if user.LastSeen.IsZero() {
		t.Fatalf("expected last_seen to be stamped")
	}

	if err := store.SetUserOnline(ctx, userID, false, seen.Add(time.Minute)); err != nil {
		t.Fatalf("SetUserOnline offline: %v", err)
	}
	user, _ = store.GetUserByID(ctx, userID)
	if user.IsOnline {
		t.Fatalf("expected offline")
	}
}

func TestGetUsersByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", "", []byte("h1"))
	bobID, _ := store.CreateUser(ctx, "bob", "", []byte("h2"))
	_ = store.SetUserOnline(ctx, aliceID, true, time.Now())

	users, err := store.GetUsersByIDs(ctx, []int64{aliceID, bobID, 999})
	if err != nil {
		t.Fatalf("GetUsersByIDs: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected missing ids to be omitted, got %d rows", len(users))
	}
	if !users[0].IsOnline || users[1].IsOnline {
		t.Fatalf("unexpected online flags: %+v", users)
	}

	empty, err := store.GetUsersByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result for no ids, got %+v err=%v", empty, err)
	}
}

func TestChatLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", "", []byte("h1"))
	bobID, _ := store.CreateUser(ctx, "bob", "", []byte("h2"))
	carolID, _ := store.CreateUser(ctx, "carol", "", []byte("h3"))

	if err := store.CreateChat(ctx, "chat-1", "weekend plans", aliceID, []int64{bobID, carolID}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := store.CreateChat(ctx, "chat-1", "dup", aliceID, nil); err != ErrChatExists {
		t.Fatalf("expected ErrChatExists, got %v", err)
	}

	chat, err := store.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat == nil || chat.Name != "weekend plans" {
		t.Fatalf("unexpected chat: %+v", chat)
	}
	if len(chat.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %v", chat.Participants)
	}

	ok, err := store.IsParticipant(ctx, "chat-1", bobID)
	if err != nil || !ok {
		t.Fatalf("expected bob to be a participant: ok=%v err=%v", ok, err)
	}
	ok, _ = store.IsParticipant(ctx, "chat-1", 999)
	if ok {
		t.Fatalf("expected unknown user not to be a participant")
	}

	chats, err := store.ListChatsForUser(ctx, bobID)
	if err != nil {
		t.Fatalf("ListChatsForUser: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "chat-1" {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	missing, err := store.GetChat(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown chat, got %+v err=%v", missing, err)
	}
}

func TestMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", "", []byte("h1"))
	if err := store.CreateChat(ctx, "chat-1", "general", aliceID, nil); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		if _, err := store.SaveMessage(ctx, "chat-1", aliceID, "hello", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	messages, err := store.ListMessages(ctx, "chat-1", 3)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected limit to apply, got %d", len(messages))
	}
	if messages[0].ID >= messages[1].ID {
		t.Fatalf("expected chronological order: %+v", messages)
	}
}

func TestUpdatePassword(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", "", []byte("hash1"))
	if err := store.UpdatePassword(ctx, aliceID, []byte("hash2")); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	user, _ := store.GetUserByUsername(ctx, "alice")
	if string(user.PasswordHash) != "hash2" {
		t.Fatalf("expected updated hash, got %s", string(user.PasswordHash))
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
