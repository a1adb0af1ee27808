package gossip

import (
	"context"
	"sync"
)

// MemberList is a node's local view of the network plus its single active
// chat association. Entries are unique by name and by address:port; the
// first announcement wins. Safe for concurrent use.
type MemberList struct {
	self string

	mu      sync.RWMutex
	members []Endpoint
	byName  map[string]int
	byAddr  map[string]string // "address:port" -> name

	conn      *Endpoint
	connReady chan struct{}
	connOnce  sync.Once
}

// NewMemberList returns an empty list for the local node called self.
// Announcements carrying self are never stored.
func NewMemberList(self string) *MemberList {
	return &MemberList{
		self:      self,
		byName:    make(map[string]int),
		byAddr:    make(map[string]string),
		connReady: make(chan struct{}),
	}
}

// Upsert adds e unless its name or address:port is already known.
// It reports whether e was inserted.
func (l *MemberList) Upsert(e Endpoint) bool {
	if e.Name == "" || e.Name == l.self {
		return false
	}
	hp := e.HostPort()

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byName[e.Name]; ok {
		return false
	}
	if _, ok := l.byAddr[hp]; ok {
		return false
	}
	l.byName[e.Name] = len(l.members)
	l.byAddr[hp] = e.Name
	l.members = append(l.members, e)
	return true
}

// Find returns the member called name.
func (l *MemberList) Find(name string) (Endpoint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byName[name]
	if !ok {
		return Endpoint{}, false
	}
	return l.members[i], true
}

// FindAddr returns the member reachable at address:port.
func (l *MemberList) FindAddr(hostport string) (Endpoint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.byAddr[hostport]
	if !ok {
		return Endpoint{}, false
	}
	return l.members[l.byName[name]], true
}

// All returns a snapshot of the members in insertion order.
func (l *MemberList) All() []Endpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Endpoint, len(l.members))
	copy(out, l.members)
	return out
}

func (l *MemberList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// SetConnection replaces the active chat peer. The latest call wins.
func (l *MemberList) SetConnection(e Endpoint) {
	l.mu.Lock()
	c := e
	l.conn = &c
	l.mu.Unlock()
	l.connOnce.Do(func() { close(l.connReady) })
}

// Connection returns the active chat peer, if any.
func (l *MemberList) Connection() (Endpoint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return Endpoint{}, false
	}
	return *l.conn, true
}

// WaitForConnection blocks until a connection is set or ctx is done.
func (l *MemberList) WaitForConnection(ctx context.Context) (Endpoint, error) {
	select {
	case <-l.connReady:
		e, _ := l.Connection()
		return e, nil
	case <-ctx.Done():
		return Endpoint{}, ctx.Err()
	}
}
