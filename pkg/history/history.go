// Package history keeps the chat lines a node has sent and received: a
// bounded in-memory store for display and the admin API, and an optional
// SQLite archive that survives restarts.
package history

import (
	"container/list"
	"sync"
	"time"
)

// DisplayLayout is how chat timestamps are rendered.
const DisplayLayout = "2006-01-02 15:04:05"

// Line is one chat message.
type Line struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Outgoing  bool      `json:"outgoing"`
}

// String renders "YYYY-MM-DD HH:MM:SS from: text".
func (l Line) String() string {
	return l.Timestamp.Format(DisplayLayout) + " " + l.From + ": " + l.Text
}

func (l Line) size() int { return len(l.From) + len(l.Text) }

type entry struct {
	line     Line
	expireAt time.Time
}

// Store is a minimal in-memory chat log with optional retention and
// oldest-first eviction by bytes capacity.
type Store struct {
	mu        sync.RWMutex
	ll        *list.List // front = newest
	used      int
	cap       int
	retention time.Duration
	now       func() time.Time
}

// NewStore keeps at most capacityBytes of text. retention <= 0 keeps lines
// until they are evicted by capacity.
func NewStore(capacityBytes int, retention time.Duration) *Store {
	return &Store{
		ll:        list.New(),
		cap:       capacityBytes,
		retention: retention,
		now:       time.Now,
	}
}

// Append records l as the newest line.
func (s *Store) Append(l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp time.Time
	if s.retention > 0 {
		exp = s.now().Add(s.retention)
	}
	s.ll.PushFront(&entry{line: l, expireAt: exp})
	s.used += l.size()
	s.evictIfNeeded()
}

// Recent returns up to n live lines, oldest first. n <= 0 returns all.
func (s *Store) Recent(n int) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()

	if n <= 0 || n > s.ll.Len() {
		n = s.ll.Len()
	}
	out := make([]Line, n)
	el := s.ll.Front()
	for i := n - 1; i >= 0; i-- {
		out[i] = el.Value.(*entry).line
		el = el.Next()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ll.Len()
}

func (s *Store) expire() {
	now := s.now()
	for el := s.ll.Back(); el != nil; el = s.ll.Back() {
		e := el.Value.(*entry)
		if e.expireAt.IsZero() || now.Before(e.expireAt) {
			return
		}
		s.removeElement(el)
	}
}

func (s *Store) evictIfNeeded() {
	for s.used > s.cap && s.ll.Back() != nil {
		s.removeElement(s.ll.Back())
	}
}

func (s *Store) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	s.used -= e.line.size()
	s.ll.Remove(el)
}
