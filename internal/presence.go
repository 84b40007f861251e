package internal

import "sync"

// ConnTracker keeps counts of active websocket connections per user.
// A user counts as online while they hold at least one connection.
type ConnTracker struct {
	mu     sync.Mutex
	online map[int64]int
}

func NewConnTracker() *ConnTracker {
	return &ConnTracker{online: make(map[int64]int)}
}

// Connect records a new connection and reports whether this is the
// user's first one, i.e. the offline->online transition.
func (p *ConnTracker) Connect(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID]++
	return p.online[userID] == 1
}

// Disconnect records a closed connection and reports whether the user
// dropped to zero connections, i.e. the online->offline transition.
func (p *ConnTracker) Disconnect(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.online[userID]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(p.online, userID)
		return true
	}
	p.online[userID] = count - 1
	return false
}

func (p *ConnTracker) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID] > 0
}

func (p *ConnTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
