package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets the TTL laws run without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cache := NewCache()
	cache.now = func() time.Time { return clock.now }
	return cache, clock
}

func samplePresence(chatID string) ChatPresence {
	participants := []UserPresence{
		{UserID: "a", IsOnline: true},
		{UserID: "b"},
	}
	return ChatPresence{
		ChatID:       chatID,
		Participants: participants,
		OnlineCount:  1,
		TotalCount:   2,
	}
}

func TestCacheGetAfterSet(t *testing.T) {
	cache, _ := newTestCache()
	p := samplePresence("x")
	cache.Set("x", p, 30*time.Second)

	got, ok := cache.Get("x")
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestCacheMissWhenAbsent(t *testing.T) {
	cache, _ := newTestCache()
	_, ok := cache.Get("nope")
	assert.False(t, ok)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	cache, clock := newTestCache()
	cache.Set("x", samplePresence("x"), 30*time.Second)

	clock.advance(29 * time.Second)
	_, ok := cache.Get("x")
	assert.True(t, ok, "entry should survive inside the ttl window")

	clock.advance(time.Second)
	_, ok = cache.Get("x")
	assert.False(t, ok, "entry should read as absent once the ttl elapses")
	assert.Equal(t, 0, cache.Len(), "expired entry should be lazily evicted")
}

func TestCacheExtendTTL(t *testing.T) {
	cache, clock := newTestCache()
	cache.Set("x", samplePresence("x"), 30*time.Second)

	// Extend at t=25s; effective expiry becomes 30s+60s=90s.
	clock.advance(25 * time.Second)
	cache.ExtendTTL("x", 60*time.Second)

	clock.advance(25 * time.Second) // t=50s
	got, ok := cache.Get("x")
	require.True(t, ok, "extended entry should still be a hit at t=50s")
	assert.Equal(t, "x", got.ChatID)

	clock.advance(41 * time.Second) // t=91s
	_, ok = cache.Get("x")
	assert.False(t, ok, "entry should expire once the extended window passes")
}

func TestCacheExtendTTLKeepsValue(t *testing.T) {
	cache, _ := newTestCache()
	p := samplePresence("x")
	cache.Set("x", p, 30*time.Second)
	cache.ExtendTTL("x", 60*time.Second)

	got, ok := cache.Get("x")
	require.True(t, ok)
	assert.Equal(t, p, got, "extension must not alter the cached value")
}

func TestCacheExtendTTLAbsentIsNoop(t *testing.T) {
	cache, _ := newTestCache()
	cache.ExtendTTL("ghost", time.Minute)
	_, ok := cache.Get("ghost")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheSetOverwritesUnconditionally(t *testing.T) {
	cache, _ := newTestCache()
	first := samplePresence("x")
	cache.Set("x", first, 30*time.Second)

	second := first
	second.Participants = append([]UserPresence(nil), first.Participants...)
	second.Participants[1].IsOnline = true
	second.OnlineCount = 2
	cache.Set("x", second, 30*time.Second)

	got, ok := cache.Get("x")
	require.True(t, ok)
	assert.Equal(t, second, got, "last write wins, no merge with the prior value")
}

func TestCacheEvict(t *testing.T) {
	cache, _ := newTestCache()
	cache.Set("x", samplePresence("x"), 30*time.Second)
	cache.Evict("x")
	_, ok := cache.Get("x")
	assert.False(t, ok)
}

func TestCacheDefaultTTLFallback(t *testing.T) {
	cache, clock := newTestCache()
	cache.Set("x", samplePresence("x"), 0)

	clock.advance(DefaultTTL - time.Second)
	_, ok := cache.Get("x")
	assert.True(t, ok)

	clock.advance(2 * time.Second)
	_, ok = cache.Get("x")
	assert.False(t, ok)
}
