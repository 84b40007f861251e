package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsechat/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return NewServer(store, ServerOptions{AuthLimit: 1000}), store
}

// seedUser inserts a user plus a live session, bypassing bcrypt.
func seedUser(t *testing.T, store *storage.Store, username string) (int64, string) {
	t.Helper()
	id, err := store.CreateUser(context.Background(), username, "", []byte("not-a-real-hash"))
	require.NoError(t, err)
	token := uuid.NewString()
	require.NoError(t, store.CreateSession(context.Background(), id, token, time.Now().Add(time.Hour)))
	return id, token
}

func doRequest(handler http.HandlerFunc, method, target, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestSignupAndLogin(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server.HandleSignup, http.MethodPost, "/signup", "", signupRequest{
		Username: "ana", Password: "hunter2", DisplayName: "Ana",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(server.HandleSignup, http.MethodPost, "/signup", "", signupRequest{
		Username: "ana", Password: "other",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(server.HandleLogin, http.MethodPost, "/login", "", loginRequest{
		Username: "ana", Password: "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "ana", login.Username)
	assert.Equal(t, "Ana", login.DisplayName)

	rec = doRequest(server.HandleLogin, http.MethodPost, "/login", "", loginRequest{
		Username: "ana", Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(server.HandleChats, http.MethodGet, "/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListChats(t *testing.T) {
	server, store := newTestServer(t)
	_, anaToken := seedUser(t, store, "ana")
	_, bobToken := seedUser(t, store, "bob")

	rec := doRequest(server.HandleChats, http.MethodPost, "/chats", anaToken, createChatRequest{
		Name: "design", Participants: []string{"bob"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created chatDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "design", created.Name)
	assert.Len(t, created.Participants, 2)

	rec = doRequest(server.HandleChats, http.MethodPost, "/chats", anaToken, createChatRequest{
		Name: "ghosts", Participants: []string{"nobody"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(server.HandleChats, http.MethodGet, "/chats", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed chatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Chats, 1)
	assert.Equal(t, created.ID, listed.Chats[0].ID)
}

func TestMessagesEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	anaID, anaToken := seedUser(t, store, "ana")
	_, strangerToken := seedUser(t, store, "mallory")

	chatID := uuid.NewString()
	require.NoError(t, store.CreateChat(context.Background(), chatID, "standup", anaID, nil))
	base := time.Now().Add(-time.Minute)
	for i, body := range []string{"first", "second", "third"} {
		_, err := store.SaveMessage(context.Background(), chatID, anaID, body, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	rec := doRequest(server.HandleMessages, http.MethodGet, "/chats/"+chatID+"/messages", anaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "first", resp.Messages[0].Body)
	assert.Equal(t, "third", resp.Messages[2].Body)
	assert.Equal(t, "ana", resp.Messages[0].User)

	rec = doRequest(server.HandleMessages, http.MethodGet, "/chats/"+chatID+"/messages", strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUsersStatusBatch(t *testing.T) {
	server, store := newTestServer(t)
	anaID, anaToken := seedUser(t, store, "ana")
	bobID, _ := seedUser(t, store, "bob")
	require.NoError(t, store.SetUserOnline(context.Background(), anaID, true, time.Now()))

	target := "/users/status?ids=" + itoa(anaID) + "," + itoa(bobID) + ",9999"
	rec := doRequest(server.HandleUsersStatus, http.MethodGet, target, anaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp usersStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)

	byID := make(map[string]StatusUpdate)
	for _, u := range resp.Users {
		byID[u.UserID] = u
	}
	assert.True(t, byID[itoa(anaID)].Online)
	assert.False(t, byID[itoa(bobID)].Online)

	rec = doRequest(server.HandleUsersStatus, http.MethodGet, "/users/status?ids=abc", anaToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(server.HandleUsersStatus, http.MethodGet, "/users/status?ids=1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
