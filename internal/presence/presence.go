package presence

import (
	"encoding/json"
	"fmt"
	"time"
)

// UserPresence is the latest known state for one chat participant.
type UserPresence struct {
	UserID      string    `json:"user_id"`
	IsOnline    bool      `json:"is_online"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
}

// ChatPresence is the per-chat aggregate. OnlineCount and TotalCount are
// always derived from Participants, never patched incrementally.
type ChatPresence struct {
	ChatID       string         `json:"chat_id"`
	Participants []UserPresence `json:"participants"`
	OnlineCount  int            `json:"online_count"`
	TotalCount   int            `json:"total_count"`
}

// UserSnapshot is what the external user store delivers, either from the
// batch fetch or from a live subscription. The online field is decoded
// tolerantly: anything that is not a JSON true counts as offline.
type UserSnapshot struct {
	UserID      string
	Online      bool
	LastSeen    time.Time
	DisplayName string
}

type rawSnapshot struct {
	UserID      string `json:"user_id"`
	Online      any    `json:"online"`
	LastSeenTs  int64  `json:"last_seen,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// UnmarshalJSON accepts records with a missing or malformed online field and
// maps them to offline instead of failing the whole batch.
func (s *UserSnapshot) UnmarshalJSON(data []byte) error {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.UserID = raw.UserID
	s.Online = coerceBool(raw.Online)
	s.DisplayName = raw.DisplayName
	if raw.LastSeenTs > 0 {
		s.LastSeen = time.Unix(raw.LastSeenTs, 0).UTC()
	} else {
		s.LastSeen = time.Time{}
	}
	return nil
}

// MarshalJSON keeps the wire shape symmetric with UnmarshalJSON.
func (s UserSnapshot) MarshalJSON() ([]byte, error) {
	raw := rawSnapshot{
		UserID:      s.UserID,
		Online:      s.Online,
		DisplayName: s.DisplayName,
	}
	if !s.LastSeen.IsZero() {
		raw.LastSeenTs = s.LastSeen.Unix()
	}
	return json.Marshal(raw)
}

func coerceBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// OnlineCount counts participants currently marked online.
func OnlineCount(participants []UserPresence) int {
	count := 0
	for _, p := range participants {
		if p.IsOnline {
			count++
		}
	}
	return count
}

// Validate reports whether an aggregate is internally consistent. It is the
// admission gate before any cache write or publish; a false here means the
// candidate must be discarded.
func Validate(p ChatPresence) bool {
	if p.ChatID == "" {
		return false
	}
	if p.OnlineCount != OnlineCount(p.Participants) {
		return false
	}
	return p.TotalCount == len(p.Participants)
}

// HasChanged reports whether next differs from prev in a way the consumer
// cares about: online count, total count, or any participant's online flag or
// display name (matched by user id). Unrelated field churn and duplicate
// deliveries come back false, which is what suppresses render storms.
func HasChanged(prev, next ChatPresence) bool {
	if prev.OnlineCount != next.OnlineCount || prev.TotalCount != next.TotalCount {
		return true
	}
	byID := make(map[string]UserPresence, len(prev.Participants))
	for _, p := range prev.Participants {
		byID[p.UserID] = p
	}
	for _, n := range next.Participants {
		p, ok := byID[n.UserID]
		if !ok {
			return true
		}
		if p.IsOnline != n.IsOnline || p.DisplayName != n.DisplayName {
			return true
		}
	}
	return false
}

// Summary renders a short "N/M online" descriptor for logs and headers.
func Summary(p ChatPresence) string {
	return fmt.Sprintf("%d/%d online", p.OnlineCount, p.TotalCount)
}

// fromSnapshot builds the participant entry for a fetched or streamed record.
func fromSnapshot(s UserSnapshot) UserPresence {
	return UserPresence{
		UserID:      s.UserID,
		IsOnline:    s.Online,
		LastSeen:    s.LastSeen,
		DisplayName: s.DisplayName,
	}
}
