package internal

import "sync"

// PresenceTracker counts joined connections per username so a user with two
// tabs open goes offline only when the last one leaves.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]int)}
}

// Increment returns the new connection count for username.
func (p *PresenceTracker) Increment(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[username]++
	return p.online[username]
}

func (p *PresenceTracker) Decrement(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count, ok := p.online[username]; ok {
		if count <= 1 {
			delete(p.online, username)
			return 0
		}
		p.online[username] = count - 1
		return p.online[username]
	}
	return 0
}

func (p *PresenceTracker) Online(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[username] > 0
}

func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
