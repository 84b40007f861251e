package internal

// ChatMessage is the frame exchanged over a chat room websocket.
type ChatMessage struct {
	Chat string `json:"chat"`
	User string `json:"user"`
	Body string `json:"body"`
	Ts   int64  `json:"ts"`
}

// StatusUpdate is the frame pushed over a /watch websocket whenever a
// user's availability changes. The field names mirror the payload of
// GET /users/status so clients decode both with one type.
type StatusUpdate struct {
	UserID      string `json:"user_id"`
	Online      bool   `json:"online"`
	LastSeen    int64  `json:"last_seen"`
	DisplayName string `json:"display_name,omitempty"`
}
