package gossip

import (
	"sync"
	"time"
)

// Liveness records when each peer was last heard from. It is advisory:
// nothing is evicted from the member list based on it.
type Liveness struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewLiveness() *Liveness {
	return &Liveness{seen: make(map[string]time.Time)}
}

// Observe records a datagram from name at t. Older observations are ignored.
func (l *Liveness) Observe(name string, t time.Time) {
	if name == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.seen[name]; ok && prev.After(t) {
		return
	}
	l.seen[name] = t
}

// LastSeen returns the latest observation for name.
func (l *Liveness) LastSeen(name string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.seen[name]
	return t, ok
}

// Idle reports how long name has been silent as of now.
func (l *Liveness) Idle(name string, now time.Time) (time.Duration, bool) {
	t, ok := l.LastSeen(name)
	if !ok {
		return 0, false
	}
	return now.Sub(t), true
}
