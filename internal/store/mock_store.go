// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages []*Message
	memories []*Memory
	emotions []*Emotion
	state    map[string][]byte // keyed by state key
	closed   bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		state: make(map[string][]byte),
	}
}

// AppendMessage stores a message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

// QueryMessages returns copies of matching messages, oldest first.
func (m *MockStore) QueryMessages(ctx context.Context, session string, since time.Time, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(since) {
			continue
		}
		if session != "" && msg.Sender != session && msg.Recipient != session {
			continue
		}
		c := *msg
		out = append(out, &c)
	}
	return tail(out, limit), nil
}

// AppendMemory stores a memory.
func (m *MockStore) AppendMemory(ctx context.Context, mem *Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *mem
	m.memories = append(m.memories, &c)
	return nil
}

// QueryMemories returns copies of memories in category.
func (m *MockStore) QueryMemories(ctx context.Context, category string) ([]*Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Memory
	for _, mem := range m.memories {
		if category != "" && mem.Category != category {
			continue
		}
		c := *mem
		out = append(out, &c)
	}
	return out, nil
}

// ClearMemories removes memories in category.
func (m *MockStore) ClearMemories(ctx context.Context, category string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.memories[:0]
	var removed int64
	for _, mem := range m.memories {
		if category == "" || mem.Category == category {
			removed++
			continue
		}
		kept = append(kept, mem)
	}
	m.memories = kept
	return removed, nil
}

// AppendEmotion stores an emotion.
func (m *MockStore) AppendEmotion(ctx context.Context, e *Emotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *e
	m.emotions = append(m.emotions, &c)
	return nil
}

// QueryEmotions returns copies of emotions since the given time.
func (m *MockStore) QueryEmotions(ctx context.Context, since time.Time, limit int) ([]*Emotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Emotion
	for _, e := range m.emotions {
		if e.CreatedAt.Before(since) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return tail(out, limit), nil
}

// PutState stores a copy of value under key.
func (m *MockStore) PutState(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state[key] = append([]byte(nil), value...)
	return nil
}

// GetState returns a copy of the value under key.
func (m *MockStore) GetState(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.state[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// tail keeps the last limit entries; limit <= 0 keeps everything.
func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
