// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, persistence across reopen and timestamp ordering

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.PutState(ctx, "k", []byte("v")))
	got, err := store.GetState(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()
	now := time.Now().UTC()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &Message{
		ID: "m1", Kind: "chat", Sender: "alice", Content: "hello", CreatedAt: now,
	}))
	require.NoError(t, store.AppendMemory(ctx, &Memory{
		ID: "mem1", Text: "alice likes tea", Category: "preference", CreatedAt: now,
	}))
	require.NoError(t, store.PutState(ctx, "session:alice", []byte(`{"counts":{}}`)))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	msgs, err := store.QueryMessages(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.True(t, msgs[0].CreatedAt.Equal(now), "timestamp should round-trip at nanosecond precision")

	mems, err := store.QueryMemories(ctx, "")
	require.NoError(t, err)
	require.Len(t, mems, 1)

	state, err := store.GetState(ctx, "session:alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"counts":{}}`, string(state))
}

func TestSQLiteStore_DuplicateMessageID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := &Message{ID: "m1", Kind: "chat", Sender: "alice", Content: "a", CreatedAt: time.Now()}
	require.NoError(t, store.AppendMessage(ctx, msg))
	assert.Error(t, store.AppendMessage(ctx, msg))
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := formatTime(base)
	later := formatTime(base.Add(time.Nanosecond))
	assert.Less(t, earlier, later)
	assert.Equal(t, "2025-03-01T10:00:00.000000000Z", earlier)

	// Non-UTC inputs are normalized
	loc := time.FixedZone("plus2", 2*60*60)
	assert.Equal(t, earlier, formatTime(base.In(loc)))
}
