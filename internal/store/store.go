// ABOUTME: Store interface and data types for petchat persistence
// ABOUTME: Append-only logs for messages, memories and emotions plus a small key-value table

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Message is a routed chat or private message kept for history
type Message struct {
	ID        string
	Kind      string // "chat" or "private"
	Sender    string
	Recipient string // empty unless Kind is "private"
	Content   string
	CreatedAt time.Time
}

// Memory is one fact extracted from the conversation
type Memory struct {
	ID        string
	Text      string
	Category  string
	Session   string // session whose message triggered the extraction
	CreatedAt time.Time
}

// Emotion is one entry of the room's mood history
type Emotion struct {
	ID         string
	Label      string
	Confidence float64
	Session    string
	CreatedAt  time.Time
}

// Store defines the persistence collaborator used by the router.
// It is a durable log plus key lookup; nothing here is transactional with
// message delivery.
type Store interface {
	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	// QueryMessages returns messages sent or received by session (all
	// sessions when empty) at or after since, oldest first. A positive limit
	// keeps only the most recent ones.
	QueryMessages(ctx context.Context, session string, since time.Time, limit int) ([]*Message, error)

	// Memories
	AppendMemory(ctx context.Context, mem *Memory) error
	// QueryMemories returns memories in category (all when empty), oldest first.
	QueryMemories(ctx context.Context, category string) ([]*Memory, error)
	// ClearMemories deletes memories in category (all when empty) and
	// returns how many were removed.
	ClearMemories(ctx context.Context, category string) (int64, error)

	// Emotions
	AppendEmotion(ctx context.Context, e *Emotion) error
	QueryEmotions(ctx context.Context, since time.Time, limit int) ([]*Emotion, error)

	// Key-value state
	PutState(ctx context.Context, key string, value []byte) error
	GetState(ctx context.Context, key string) ([]byte, error)

	Close() error
}
