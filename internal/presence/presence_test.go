package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnlineCount(t *testing.T) {
	assert.Equal(t, 0, OnlineCount(nil))
	assert.Equal(t, 0, OnlineCount([]UserPresence{}))

	participants := []UserPresence{
		{UserID: "a", IsOnline: true},
		{UserID: "b"},
		{UserID: "c", IsOnline: true},
	}
	assert.Equal(t, 2, OnlineCount(participants))
}

func TestValidate(t *testing.T) {
	valid := ChatPresence{
		ChatID:       "chat",
		Participants: []UserPresence{{UserID: "a", IsOnline: true}, {UserID: "b"}},
		OnlineCount:  1,
		TotalCount:   2,
	}
	assert.True(t, Validate(valid))

	empty := ChatPresence{ChatID: "chat", Participants: []UserPresence{}}
	assert.True(t, Validate(empty))

	noID := valid
	noID.ChatID = ""
	assert.False(t, Validate(noID))

	badOnline := valid
	badOnline.OnlineCount = 2
	assert.False(t, Validate(badOnline))

	badTotal := valid
	badTotal.TotalCount = 3
	assert.False(t, Validate(badTotal))
}

func TestHasChanged(t *testing.T) {
	base := ChatPresence{
		ChatID:       "chat",
		Participants: []UserPresence{{UserID: "a", IsOnline: true, DisplayName: "Alice"}, {UserID: "b"}},
		OnlineCount:  1,
		TotalCount:   2,
	}

	identical := base
	identical.Participants = append([]UserPresence(nil), base.Participants...)
	assert.False(t, HasChanged(base, identical), "identical aggregates are not a change")

	// lastSeen churn alone is not significant.
	churn := base
	churn.Participants = append([]UserPresence(nil), base.Participants...)
	churn.Participants[0].LastSeen = time.Now()
	assert.False(t, HasChanged(base, churn))

	online := base
	online.Participants = append([]UserPresence(nil), base.Participants...)
	online.Participants[1].IsOnline = true
	online.OnlineCount = 2
	assert.True(t, HasChanged(base, online))

	renamed := base
	renamed.Participants = append([]UserPresence(nil), base.Participants...)
	renamed.Participants[0].DisplayName = "Alicia"
	assert.True(t, HasChanged(base, renamed))

	grown := base
	grown.Participants = append(append([]UserPresence(nil), base.Participants...), UserPresence{UserID: "c"})
	grown.TotalCount = 3
	assert.True(t, HasChanged(base, grown))

	swapped := base
	swapped.Participants = []UserPresence{base.Participants[1], base.Participants[0]}
	assert.False(t, HasChanged(base, swapped), "participant order is not significant")
}

func TestSummary(t *testing.T) {
	p := ChatPresence{
		ChatID:       "chat",
		Participants: []UserPresence{{UserID: "a", IsOnline: true}, {UserID: "b"}, {UserID: "c"}},
		OnlineCount:  1,
		TotalCount:   3,
	}
	assert.Equal(t, "1/3 online", Summary(p))
}

func TestUserSnapshotDecodeTolerant(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		online bool
	}{
		{"true", `{"user_id":"a","online":true}`, true},
		{"false", `{"user_id":"a","online":false}`, false},
		{"missing", `{"user_id":"a"}`, false},
		{"string", `{"user_id":"a","online":"yes"}`, false},
		{"number", `{"user_id":"a","online":1}`, false},
		{"null", `{"user_id":"a","online":null}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var snap UserSnapshot
			require.NoError(t, json.Unmarshal([]byte(tc.body), &snap))
			assert.Equal(t, "a", snap.UserID)
			assert.Equal(t, tc.online, snap.Online)
		})
	}
}

func TestUserSnapshotRoundTrip(t *testing.T) {
	snap := UserSnapshot{
		UserID:      "a",
		Online:      true,
		LastSeen:    time.Unix(1700000000, 0).UTC(),
		DisplayName: "Alice",
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded UserSnapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, snap, decoded)
}
