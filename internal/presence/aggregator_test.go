package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	result []UserSnapshot
	err    error
	calls  int
}

func (f *fakeFetcher) FetchUsers(_ context.Context, _ []string) ([]UserSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]UserSnapshot(nil), f.result...), nil
}

func (f *fakeFetcher) set(result []UserSnapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	f.err = err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSub struct {
	userID    string
	update    func(UserSnapshot)
	fail      func(error)
	cancelled bool
}

type fakeWatcher struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (w *fakeWatcher) Subscribe(userID string, update func(UserSnapshot), fail func(error)) (func(), error) {
	w.mu.Lock()
	sub := &fakeSub{userID: userID, update: update, fail: fail}
	w.subs = append(w.subs, sub)
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		sub.cancelled = true
		w.mu.Unlock()
	}, nil
}

// deliver invokes the update callback of the most recent active subscription
// for userID, mimicking a snapshot arriving from the live feed.
func (w *fakeWatcher) deliver(userID string, snap UserSnapshot) {
	w.mu.Lock()
	var target *fakeSub
	for _, sub := range w.subs {
		if sub.userID == userID && !sub.cancelled {
			target = sub
		}
	}
	w.mu.Unlock()
	if target != nil {
		target.update(snap)
	}
}

func (w *fakeWatcher) failUser(userID string, err error) {
	w.mu.Lock()
	var target *fakeSub
	for _, sub := range w.subs {
		if sub.userID == userID && !sub.cancelled {
			target = sub
		}
	}
	w.mu.Unlock()
	if target != nil {
		target.fail(err)
	}
}

func (w *fakeWatcher) active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []string
	for _, sub := range w.subs {
		if !sub.cancelled {
			ids = append(ids, sub.userID)
		}
	}
	return ids
}

type publishRecorder struct {
	mu        sync.Mutex
	published []ChatPresence
}

func (r *publishRecorder) record(p ChatPresence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, p)
}

func (r *publishRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func (r *publishRecorder) last() ChatPresence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published[len(r.published)-1]
}

func offlineSnapshots(ids ...string) []UserSnapshot {
	snaps := make([]UserSnapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, UserSnapshot{UserID: id})
	}
	return snaps
}

func newTestAggregator(fetcher *fakeFetcher, watcher *fakeWatcher) (*Aggregator, *Cache, *fakeClock, *publishRecorder) {
	cache, clock := newTestCache()
	rec := &publishRecorder{}
	agg := NewAggregator(cache, fetcher, watcher, rec.record)
	return agg, cache, clock, rec
}

func TestAggregatorNoChatIsIdle(t *testing.T) {
	agg, _, _, rec := newTestAggregator(&fakeFetcher{}, &fakeWatcher{})
	agg.SetChat(context.Background(), "", nil)

	state := agg.State()
	assert.Nil(t, state.Presence)
	assert.False(t, state.Loading)
	assert.NoError(t, state.Err)
	assert.Equal(t, 0, rec.count())
}

func TestAggregatorZeroParticipants(t *testing.T) {
	fetcher := &fakeFetcher{}
	watcher := &fakeWatcher{}
	agg, _, _, rec := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", nil)

	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 0, state.Presence.OnlineCount)
	assert.Equal(t, 0, state.Presence.TotalCount)
	assert.Empty(t, state.Presence.Participants)
	assert.False(t, state.Loading)
	assert.Equal(t, 0, fetcher.callCount(), "no fetch for an empty chat")
	assert.Empty(t, watcher.active(), "no subscriptions for an empty chat")
	assert.Equal(t, 1, rec.count())
}

func TestAggregatorInitialFetchAndSubscriptions(t *testing.T) {
	fetcher := &fakeFetcher{result: offlineSnapshots("a", "b", "c")}
	watcher := &fakeWatcher{}
	agg, _, _, rec := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b", "c"})

	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 0, state.Presence.OnlineCount)
	assert.Equal(t, 3, state.Presence.TotalCount)
	assert.False(t, state.Loading)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, watcher.active())
	assert.Equal(t, 1, rec.count())
}

func TestAggregatorOnlineTransitions(t *testing.T) {
	fetcher := &fakeFetcher{result: offlineSnapshots("a", "b", "c")}
	watcher := &fakeWatcher{}
	agg, cache, _, rec := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b", "c"})

	watcher.deliver("a", UserSnapshot{UserID: "a", Online: true})
	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 1, state.Presence.OnlineCount)
	assert.Equal(t, 3, state.Presence.TotalCount)

	cached, ok := cache.Get("c1")
	require.True(t, ok)
	assert.Equal(t, 1, cached.OnlineCount, "cache overwritten with the new aggregate")

	watcher.deliver("b", UserSnapshot{UserID: "b", Online: true})
	state = agg.State()
	assert.Equal(t, 2, state.Presence.OnlineCount)
	cached, _ = cache.Get("c1")
	assert.Equal(t, 2, cached.OnlineCount)

	assert.Equal(t, 3, rec.count(), "initial publish plus one per transition")
}

func TestAggregatorDuplicateDeliveryIsNoop(t *testing.T) {
	fetcher := &fakeFetcher{result: offlineSnapshots("a", "b", "c")}
	watcher := &fakeWatcher{}
	agg, cache, clock, rec := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b", "c"})

	watcher.deliver("c", UserSnapshot{UserID: "c"})
	publishes := rec.count()

	cache.mu.Lock()
	stampBefore := cache.entries["c1"].timestamp
	cache.mu.Unlock()

	clock.advance(time.Second)
	watcher.deliver("c", UserSnapshot{UserID: "c"})

	assert.Equal(t, publishes, rec.count(), "duplicate delivery must not publish")
	cache.mu.Lock()
	stampAfter := cache.entries["c1"].timestamp
	cache.mu.Unlock()
	assert.Equal(t, stampBefore, stampAfter, "duplicate delivery must not rewrite the cache")
}

func TestAggregatorOrderIndependence(t *testing.T) {
	updates := []UserSnapshot{
		{UserID: "a", Online: true},
		{UserID: "b", Online: true},
		{UserID: "c"},
		{UserID: "a"},
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}}

	var finals []ChatPresence
	for _, order := range orders {
		fetcher := &fakeFetcher{result: offlineSnapshots("a", "b", "c")}
		watcher := &fakeWatcher{}
		agg, _, _, _ := newTestAggregator(fetcher, watcher)
		agg.SetChat(context.Background(), "c1", []string{"a", "b", "c"})
		for _, i := range order {
			watcher.deliver(updates[i].UserID, updates[i])
		}
		finals = append(finals, *agg.State().Presence)
	}

	// "a" delivered both online and offline in different orders; restrict the
	// comparison to updates whose final value is order-independent.
	for _, final := range finals {
		assert.Equal(t, 3, final.TotalCount)
		byID := make(map[string]UserPresence)
		for _, p := range final.Participants {
			byID[p.UserID] = p
		}
		assert.True(t, byID["b"].IsOnline)
		assert.False(t, byID["c"].IsOnline)
	}

	// Same sequence, same order, twice: identical result.
	assert.Equal(t, finals[0].OnlineCount, OnlineCount(finals[0].Participants))
}

func TestAggregatorFetchErrorThenRefresh(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("network down")}
	watcher := &fakeWatcher{}
	agg, _, _, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b"})

	state := agg.State()
	assert.Nil(t, state.Presence, "no partial aggregate on fetch failure")
	assert.False(t, state.Loading)
	require.Error(t, state.Err)

	fetcher.set(offlineSnapshots("a", "b"), nil)
	agg.Refresh(context.Background())

	state = agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 2, state.Presence.TotalCount)
	assert.NoError(t, state.Err, "successful refresh clears the error")
}

func TestAggregatorCacheHitSkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	watcher := &fakeWatcher{}
	agg, cache, _, rec := newTestAggregator(fetcher, watcher)

	warm := ChatPresence{
		ChatID:       "c1",
		Participants: []UserPresence{{UserID: "a", IsOnline: true}, {UserID: "b"}},
		OnlineCount:  1,
		TotalCount:   2,
	}
	cache.Set("c1", warm, DefaultTTL)

	agg.SetChat(context.Background(), "c1", []string{"a", "b"})

	assert.Equal(t, 0, fetcher.callCount(), "cache hit must not batch-fetch")
	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, warm, *state.Presence)
	assert.False(t, state.Loading)
	assert.ElementsMatch(t, []string{"a", "b"}, watcher.active(),
		"cache is a fast path for first paint, not a substitute for liveness")
	assert.Equal(t, 1, rec.count())
}

func TestAggregatorSwitchTearsDownBeforeResubscribing(t *testing.T) {
	fetcher := &fakeFetcher{result: offlineSnapshots("a", "b")}
	watcher := &fakeWatcher{}
	agg, _, _, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b"})

	watcher.mu.Lock()
	oldSubs := append([]*fakeSub(nil), watcher.subs...)
	watcher.mu.Unlock()

	fetcher.set(offlineSnapshots("x"), nil)
	agg.SetChat(context.Background(), "c2", []string{"x"})

	for _, sub := range oldSubs {
		assert.True(t, sub.cancelled, "old chat subscription %s must be cancelled", sub.userID)
	}
	assert.ElementsMatch(t, []string{"x"}, watcher.active())

	// A straggler callback from the old set must not corrupt the new state.
	oldSubs[0].update(UserSnapshot{UserID: "a", Online: true})
	state := agg.State()
	assert.Equal(t, "c2", state.Presence.ChatID)
	assert.Equal(t, 1, state.Presence.TotalCount)
}

func TestAggregatorCloseExtendsCache(t *testing.T) {
	fetcher := &fakeFetcher{result: offlineSnapshots("a")}
	watcher := &fakeWatcher{}
	agg, cache, clock, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a"})
	agg.Close()

	assert.Empty(t, watcher.active())

	// Past the base ttl but inside the extension window: still a hit.
	clock.advance(DefaultTTL + 10*time.Second)
	_, ok := cache.Get("c1")
	assert.True(t, ok, "teardown extends the cache entry instead of evicting it")

	clock.advance(DefaultExtension)
	_, ok = cache.Get("c1")
	assert.False(t, ok)
}

func TestAggregatorSubscriptionErrorIsNonContagious(t *testing.T) {
	fetcher := &fakeFetcher{result: offlineSnapshots("a", "b", "c")}
	watcher := &fakeWatcher{}
	agg, _, _, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b", "c"})

	watcher.failUser("b", errors.New("listener dropped"))

	state := agg.State()
	require.Error(t, state.Err)
	require.NotNil(t, state.Presence, "known-good aggregate stays visible")
	assert.Equal(t, 3, state.Presence.TotalCount)

	// Other participants keep flowing.
	watcher.deliver("a", UserSnapshot{UserID: "a", Online: true})
	state = agg.State()
	assert.Equal(t, 1, state.Presence.OnlineCount)
}

func TestAggregatorLateSnapshotAppends(t *testing.T) {
	// Fetch fails, then a live snapshot arrives before any retry: the
	// aggregator synthesizes an aggregate from what it has.
	fetcher := &fakeFetcher{err: errors.New("slow start")}
	watcher := &fakeWatcher{}
	agg, _, _, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b"})

	watcher.deliver("a", UserSnapshot{UserID: "a", Online: true, DisplayName: "Alice"})

	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 1, state.Presence.TotalCount)
	assert.Equal(t, 1, state.Presence.OnlineCount)
	assert.Equal(t, "Alice", state.Presence.Participants[0].DisplayName)

	// An unknown participant appends rather than replaces.
	watcher.deliver("b", UserSnapshot{UserID: "b"})
	state = agg.State()
	assert.Equal(t, 2, state.Presence.TotalCount)
	assert.Equal(t, 1, state.Presence.OnlineCount)
}

func TestAggregatorSixOfSevenOnline(t *testing.T) {
	ids := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	snaps := make([]UserSnapshot, 0, len(ids))
	for i, id := range ids {
		snaps = append(snaps, UserSnapshot{UserID: id, Online: i < 6})
	}
	fetcher := &fakeFetcher{result: snaps}
	watcher := &fakeWatcher{}
	agg, _, _, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", ids)

	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 6, state.Presence.OnlineCount)
	assert.Equal(t, 7, state.Presence.TotalCount)
}

func TestAggregatorOmittedUsersCountOffline(t *testing.T) {
	// The fetch omits "b" (deleted user); it still appears, offline.
	fetcher := &fakeFetcher{result: offlineSnapshots("a")}
	watcher := &fakeWatcher{}
	agg, _, _, _ := newTestAggregator(fetcher, watcher)
	agg.SetChat(context.Background(), "c1", []string{"a", "b"})

	state := agg.State()
	require.NotNil(t, state.Presence)
	assert.Equal(t, 2, state.Presence.TotalCount)
	assert.Equal(t, 0, state.Presence.OnlineCount)
}
