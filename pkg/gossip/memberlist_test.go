package gossip

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ep(name, addr string, port uint16) Endpoint {
	return Endpoint{Name: name, Address: addr, Port: port}
}

func TestUpsertIsIdempotent(t *testing.T) {
	l := NewMemberList("self")
	b := ep("bob", "10.0.0.2", 2000)

	assert.True(t, l.Upsert(b))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Upsert(b))
	}
	assert.Equal(t, 1, l.Len())
}

func TestUpsertFirstSeenWins(t *testing.T) {
	l := NewMemberList("self")
	require.True(t, l.Upsert(ep("bob", "10.0.0.2", 2000)))

	// Same name, new address: ignored.
	assert.False(t, l.Upsert(ep("bob", "10.0.0.9", 9000)))
	// New name, same address: ignored.
	assert.False(t, l.Upsert(ep("mallory", "10.0.0.2", 2000)))

	got, ok := l.Find("bob")
	require.True(t, ok)
	assert.Equal(t, ep("bob", "10.0.0.2", 2000), got)
	_, ok = l.Find("mallory")
	assert.False(t, ok)
}

func TestUpsertRejectsSelfAndAnonymous(t *testing.T) {
	l := NewMemberList("alice")
	assert.False(t, l.Upsert(ep("alice", "10.0.0.1", 1099)))
	assert.False(t, l.Upsert(ep("", "10.0.0.3", 1099)))
	assert.Zero(t, l.Len())
}

func TestMembershipIsMonotonic(t *testing.T) {
	l := NewMemberList("self")
	prev := 0
	for i := 0; i < 20; i++ {
		// Every third announcement repeats an earlier one.
		j := i
		if i%3 == 2 {
			j = i - 1
		}
		l.Upsert(ep(fmt.Sprintf("p%d", j), "10.0.1.1", uint16(3000+j)))
		require.GreaterOrEqual(t, l.Len(), prev)
		prev = l.Len()
	}
}

func TestAllIsOrderedCopy(t *testing.T) {
	l := NewMemberList("self")
	l.Upsert(ep("a", "10.0.0.1", 1))
	l.Upsert(ep("b", "10.0.0.1", 2))
	l.Upsert(ep("c", "10.0.0.1", 3))

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Name, all[1].Name, all[2].Name})

	all[0].Name = "changed"
	_, ok := l.Find("a")
	assert.True(t, ok)
}

func TestFindAddr(t *testing.T) {
	l := NewMemberList("self")
	l.Upsert(ep("bob", "10.0.0.2", 2000))
	got, ok := l.FindAddr("10.0.0.2:2000")
	require.True(t, ok)
	assert.Equal(t, "bob", got.Name)
	_, ok = l.FindAddr("10.0.0.2:2001")
	assert.False(t, ok)
}

func TestSetConnectionOverwrites(t *testing.T) {
	l := NewMemberList("self")
	_, ok := l.Connection()
	assert.False(t, ok)

	l.SetConnection(ep("bob", "10.0.0.2", 2000))
	l.SetConnection(ep("carol", "10.0.0.3", 3000))

	got, ok := l.Connection()
	require.True(t, ok)
	assert.Equal(t, "carol", got.Name)
}

func TestWaitForConnection(t *testing.T) {
	l := NewMemberList("self")

	done := make(chan Endpoint, 1)
	go func() {
		e, err := l.WaitForConnection(context.Background())
		if err == nil {
			done <- e
		}
	}()

	time.Sleep(10 * time.Millisecond)
	l.SetConnection(ep("bob", "10.0.0.2", 2000))

	select {
	case e := <-done:
		assert.Equal(t, "bob", e.Name)
	case <-time.After(time.Second):
		t.Fatal("WaitForConnection did not return")
	}

	// Already connected: returns at once.
	e, err := l.WaitForConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", e.Name)
}

func TestWaitForConnectionContext(t *testing.T) {
	l := NewMemberList("self")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.WaitForConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemberListConcurrentUpsert(t *testing.T) {
	l := NewMemberList("self")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Upsert(ep(fmt.Sprintf("p%d", i), "10.0.2.1", uint16(4000+i)))
				l.All()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, l.Len())
}
