// ABOUTME: Shared behavioural tests run against every Store implementation
// ABOUTME: Keeps MockStore honest by holding it to the same contract as SQLiteStore

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMockStore() })
}

func TestMockStore_Close(t *testing.T) {
	store := NewMockStore()
	assert.False(t, store.Closed())
	require.NoError(t, store.Close())
	assert.True(t, store.Closed())
}

func TestMockStore_StateIsCopied(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.PutState(ctx, "k", value))
	value[0] = 'z'

	got, err := store.GetState(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("messages oldest first with limit keeping newest", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := range 5 {
			require.NoError(t, store.AppendMessage(ctx, &Message{
				ID:        fmt.Sprintf("m%d", i),
				Kind:      "chat",
				Sender:    "alice",
				Content:   fmt.Sprintf("msg %d", i),
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}

		all, err := store.QueryMessages(ctx, "", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "msg 0", all[0].Content)
		assert.Equal(t, "msg 4", all[4].Content)

		recent, err := store.QueryMessages(ctx, "", time.Time{}, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "msg 3", recent[0].Content)
		assert.Equal(t, "msg 4", recent[1].Content)

		since, err := store.QueryMessages(ctx, "", base.Add(3*time.Second), 0)
		require.NoError(t, err)
		assert.Len(t, since, 2)
	})

	t.Run("messages filtered by session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.AppendMessage(ctx, &Message{ID: "1", Kind: "chat", Sender: "alice", Content: "hi", CreatedAt: base}))
		require.NoError(t, store.AppendMessage(ctx, &Message{ID: "2", Kind: "private", Sender: "bob", Recipient: "alice", Content: "psst", CreatedAt: base}))
		require.NoError(t, store.AppendMessage(ctx, &Message{ID: "3", Kind: "chat", Sender: "carol", Content: "yo", CreatedAt: base}))

		got, err := store.QueryMessages(ctx, "alice", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "hi", got[0].Content)
		assert.Equal(t, "psst", got[1].Content)
		assert.Equal(t, "alice", got[1].Recipient)
	})

	t.Run("memories by category and clear", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.AppendMemory(ctx, &Memory{ID: "a", Text: "likes tea", Category: "preference", Session: "alice", CreatedAt: base}))
		require.NoError(t, store.AppendMemory(ctx, &Memory{ID: "b", Text: "trip to Oslo", Category: "event", Session: "bob", CreatedAt: base}))
		require.NoError(t, store.AppendMemory(ctx, &Memory{ID: "c", Text: "hates rain", Category: "preference", Session: "bob", CreatedAt: base}))

		prefs, err := store.QueryMemories(ctx, "preference")
		require.NoError(t, err)
		require.Len(t, prefs, 2)
		assert.Equal(t, "likes tea", prefs[0].Text)

		n, err := store.ClearMemories(ctx, "preference")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		rest, err := store.QueryMemories(ctx, "")
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "event", rest[0].Category)

		n, err = store.ClearMemories(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("emotions since and limit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		labels := []string{"calm", "happy", "excited"}
		for i, label := range labels {
			require.NoError(t, store.AppendEmotion(ctx, &Emotion{
				ID:         label,
				Label:      label,
				Confidence: 0.5 + float64(i)/10,
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			}))
		}

		got, err := store.QueryEmotions(ctx, base.Add(time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "happy", got[0].Label)
		assert.InDelta(t, 0.6, got[0].Confidence, 1e-9)

		last, err := store.QueryEmotions(ctx, time.Time{}, 1)
		require.NoError(t, err)
		require.Len(t, last, 1)
		assert.Equal(t, "excited", last[0].Label)
	})

	t.Run("state put get and replace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetState(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))

		require.NoError(t, store.PutState(ctx, "session:alice", []byte("one")))
		require.NoError(t, store.PutState(ctx, "session:alice", []byte("two")))

		got, err := store.GetState(ctx, "session:alice")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		msg := &Message{ID: "m", Kind: "chat", Sender: "alice", Content: "orig", CreatedAt: base}
		require.NoError(t, store.AppendMessage(ctx, msg))
		msg.Content = "mutated"

		got, err := store.QueryMessages(ctx, "", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "orig", got[0].Content)
	})
}
