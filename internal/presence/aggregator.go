package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Watcher is the live per-user subscription primitive. Subscribe opens a
// standing feed for one user and returns a cancel handle. The update and fail
// callbacks may be invoked from arbitrary goroutines and must not be assumed
// to arrive in any order across distinct users.
type Watcher interface {
	Subscribe(userID string, update func(UserSnapshot), fail func(error)) (cancel func(), err error)
}

// Fetcher is the batch user-record fetch primitive. Missing or deleted users
// may simply be omitted from the result.
type Fetcher interface {
	FetchUsers(ctx context.Context, ids []string) ([]UserSnapshot, error)
}

// State is the aggregator's public contract toward the UI consumer. Err is
// advisory: a non-nil Err alongside a non-nil Presence means "potentially
// stale but displayable".
type State struct {
	Presence *ChatPresence
	Loading  bool
	Err      error
}

// ErrInvalidAggregate marks a candidate aggregate that failed the consistency
// check and was discarded.
var ErrInvalidAggregate = errors.New("presence: invalid aggregate discarded")

// Aggregator maintains a continuously up-to-date ChatPresence for one chat at
// a time: one live subscription per participant, merged through a
// change-significance gate, backed by a TTL cache. Callbacks from the watcher
// serialize on an internal mutex, so merges never interleave.
type Aggregator struct {
	cache    *Cache
	fetcher  Fetcher
	watcher  Watcher
	onChange func(ChatPresence)
	log      *logrus.Entry
	throttle *logThrottle

	mu           sync.Mutex
	chatID       string
	participants []string
	presence     *ChatPresence
	loading      bool
	err          error
	resolving    bool
	cancels      []func()
	gen          uint64
}

func NewAggregator(cache *Cache, fetcher Fetcher, watcher Watcher, onChange func(ChatPresence)) *Aggregator {
	return &Aggregator{
		cache:    cache,
		fetcher:  fetcher,
		watcher:  watcher,
		onChange: onChange,
		log:      logrus.WithField("component", "presence"),
		throttle: newLogThrottle(20, time.Minute),
	}
}

// SetChat switches the aggregator to a new chat context. The previous chat's
// subscriptions are cancelled unconditionally before any new ones open, and
// its cache entry gets a TTL extension so a quick back-navigation is a hit.
// An empty participant list settles immediately into an empty aggregate with
// no subscriptions; an empty chatID clears everything.
func (a *Aggregator) SetChat(ctx context.Context, chatID string, participantIDs []string) {
	a.mu.Lock()
	a.teardownLocked()
	a.chatID = chatID
	a.participants = append([]string(nil), participantIDs...)
	a.presence = nil
	a.err = nil
	a.loading = false

	if chatID == "" {
		a.mu.Unlock()
		return
	}
	if len(a.participants) == 0 {
		empty := ChatPresence{ChatID: chatID, Participants: []UserPresence{}}
		a.presence = &empty
		a.mu.Unlock()
		a.publish(empty)
		return
	}
	gen := a.gen
	a.mu.Unlock()

	a.refresh(ctx, gen, false)
	a.subscribeAll(gen)
}

// Refresh re-runs the initial load, bypassing the already-resolving
// short-circuit. It is the manual retry path after a fetch error.
func (a *Aggregator) Refresh(ctx context.Context) {
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()
	a.refresh(ctx, gen, true)
}

// State returns the current consumer-facing view.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{Presence: a.presence, Loading: a.loading, Err: a.err}
}

// Close cancels all subscriptions and extends (rather than evicts) the cache
// entry for the current chat.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
	a.chatID = ""
	a.participants = nil
}

// teardownLocked cancels every live subscription and bumps the generation so
// in-flight callbacks from the old set are dropped. Caller holds a.mu.
func (a *Aggregator) teardownLocked() {
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil
	a.gen++
	if a.chatID != "" && a.presence != nil {
		a.cache.ExtendTTL(a.chatID, DefaultExtension)
	}
}

func (a *Aggregator) refresh(ctx context.Context, gen uint64, force bool) {
	a.mu.Lock()
	if a.gen != gen || a.chatID == "" {
		a.mu.Unlock()
		return
	}
	if a.resolving && !force {
		a.mu.Unlock()
		return
	}
	chatID := a.chatID
	ids := append([]string(nil), a.participants...)

	if cached, ok := a.cache.Get(chatID); ok {
		a.presence = &cached
		a.loading = false
		a.err = nil
		a.mu.Unlock()
		a.publish(cached)
		return
	}

	a.resolving = true
	a.loading = true
	a.mu.Unlock()

	snapshots, err := a.fetcher.FetchUsers(ctx, ids)

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.resolving = false
	a.loading = false
	if err != nil {
		// No partial aggregate is ever published on a failed fetch.
		a.err = fmt.Errorf("fetch participants: %w", err)
		a.mu.Unlock()
		a.log.WithError(err).WithField("chat", chatID).Warn("presence fetch failed")
		return
	}

	aggregate := buildAggregate(chatID, ids, snapshots)
	if !Validate(aggregate) {
		if a.presence == nil {
			a.err = ErrInvalidAggregate
		}
		a.mu.Unlock()
		return
	}
	a.presence = &aggregate
	a.err = nil
	a.cache.Set(chatID, aggregate, DefaultTTL)
	a.mu.Unlock()
	a.publish(aggregate)
}

// buildAggregate assembles the initial aggregate from a batch fetch. Fetched
// order follows the requested id order; users the fetch omitted still appear,
// offline, so TotalCount reflects the chat's participant list.
func buildAggregate(chatID string, ids []string, snapshots []UserSnapshot) ChatPresence {
	byID := make(map[string]UserSnapshot, len(snapshots))
	for _, s := range snapshots {
		byID[s.UserID] = s
	}
	participants := make([]UserPresence, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			participants = append(participants, fromSnapshot(s))
		} else {
			participants = append(participants, UserPresence{UserID: id})
		}
	}
	return ChatPresence{
		ChatID:       chatID,
		Participants: participants,
		OnlineCount:  OnlineCount(participants),
		TotalCount:   len(participants),
	}
}

func (a *Aggregator) subscribeAll(gen uint64) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	ids := append([]string(nil), a.participants...)
	a.mu.Unlock()

	for _, id := range ids {
		userID := id
		cancel, err := a.watcher.Subscribe(userID,
			func(s UserSnapshot) { a.handleUpdate(gen, s) },
			func(err error) { a.handleError(gen, userID, err) },
		)
		if err != nil {
			a.handleError(gen, userID, err)
			continue
		}
		a.mu.Lock()
		if a.gen != gen {
			a.mu.Unlock()
			cancel()
			return
		}
		a.cancels = append(a.cancels, cancel)
		a.mu.Unlock()
	}
}

// handleUpdate runs the merge algorithm for one incoming snapshot. Replaying
// an identical snapshot lands in the unchanged path and is a deliberate
// no-op: no cache write, no publish.
func (a *Aggregator) handleUpdate(gen uint64, snap UserSnapshot) {
	a.mu.Lock()
	if a.gen != gen || a.chatID == "" {
		a.mu.Unlock()
		return
	}

	var participants []UserPresence
	if a.presence != nil {
		participants = append(participants, a.presence.Participants...)
	}
	replaced := false
	for i := range participants {
		if participants[i].UserID == snap.UserID {
			participants[i] = fromSnapshot(snap)
			replaced = true
			break
		}
	}
	if !replaced {
		// A snapshot can land before the initial fetch completes.
		participants = append(participants, fromSnapshot(snap))
	}

	candidate := ChatPresence{
		ChatID:       a.chatID,
		Participants: participants,
		OnlineCount:  OnlineCount(participants),
		TotalCount:   len(participants),
	}
	if snap.UserID == "" || !Validate(candidate) {
		// Discard the candidate, keep the previous aggregate visible.
		if a.presence == nil {
			a.err = ErrInvalidAggregate
		}
		a.mu.Unlock()
		return
	}
	if a.presence != nil && !HasChanged(*a.presence, candidate) {
		a.mu.Unlock()
		return
	}
	a.presence = &candidate
	a.cache.Set(a.chatID, candidate, DefaultTTL)
	chatID := a.chatID
	a.mu.Unlock()

	if a.throttle.allow() {
		a.log.WithField("chat", chatID).Debugf("presence update: %s", Summary(candidate))
	}
	a.publish(candidate)
}

// handleError records a per-participant subscription failure. It is
// non-contagious: other subscriptions and the visible aggregate are left
// untouched.
func (a *Aggregator) handleError(gen uint64, userID string, err error) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.err = fmt.Errorf("subscription for %s: %w", userID, err)
	a.mu.Unlock()
	if a.throttle.allow() {
		a.log.WithError(err).WithField("user", userID).Warn("presence subscription error")
	}
}

func (a *Aggregator) publish(p ChatPresence) {
	if a.onChange != nil {
		a.onChange(p)
	}
}

// logThrottle caps diagnostic output under high-frequency upstream updates.
// Same sliding-window shape as the server's request limiter, single key.
type logThrottle struct {
	mu     sync.Mutex
	hits   []time.Time
	limit  int
	window time.Duration
}

func newLogThrottle(limit int, window time.Duration) *logThrottle {
	return &logThrottle{limit: limit, window: window}
}

func (t *logThrottle) allow() bool {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	windowStart := now.Add(-t.window)
	idx := 0
	for _, ts := range t.hits {
		if ts.After(windowStart) {
			t.hits[idx] = ts
			idx++
		}
	}
	t.hits = t.hits[:idx]
	if len(t.hits) >= t.limit {
		return false
	}
	t.hits = append(t.hits, now)
	return true
}
