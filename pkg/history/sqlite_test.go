package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	a, err := OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()

	ts := time.Unix(1700000000, 0)
	require.NoError(t, a.Record(ctx, Line{From: "bob", Text: "hi", Timestamp: ts}))
	require.NoError(t, a.Record(ctx, Line{From: "alice", Text: "hello", Timestamp: ts.Add(time.Second), Outgoing: true}))
	require.NoError(t, a.Record(ctx, Line{From: "bob", Text: "bye", Timestamp: ts.Add(2 * time.Second)}))

	got, err := a.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.True(t, got[0].Outgoing)
	assert.Equal(t, "bye", got[1].Text)
	assert.True(t, got[1].Timestamp.Equal(ts.Add(2*time.Second)))

	require.NoError(t, a.Close())

	// Lines survive a reopen.
	a, err = OpenSQLite(path)
	require.NoError(t, err)
	defer a.Close()
	all, err := a.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hi", all[0].Text)
	assert.Equal(t, "bob", all[0].From)
}
