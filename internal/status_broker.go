package internal

import "sync"

// StatusBroker fans availability changes out to watchers. Each call to
// Subscribe registers interest in one user; Publish delivers the update
// to every subscriber watching that user. Slow subscribers drop updates
// rather than block the publisher.
type StatusBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan StatusUpdate
}

func NewStatusBroker() *StatusBroker {
	return &StatusBroker{subs: make(map[string]map[int]chan StatusUpdate)}
}

// Subscribe returns a channel of updates for userID and a cancel
// function. Cancel closes the channel; the caller must stop reading
// after calling it.
func (b *StatusBroker) Subscribe(userID string) (<-chan StatusUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan StatusUpdate, 8)
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan StatusUpdate)
	}
	b.subs[userID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[userID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
	}
	return ch, cancel
}

func (b *StatusBroker) Publish(update StatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[update.UserID] {
		select {
		case ch <- update:
		default:
		}
	}
}

func (b *StatusBroker) Watchers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}
