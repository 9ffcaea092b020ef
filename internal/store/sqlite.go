// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Message, memory and emotion logs plus session state with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored strings sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and serializes
	// writers, which SQLite does anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender_created
			ON messages(sender, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient_created
			ON messages(recipient, created_at);

		CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL,
			category TEXT NOT NULL,
			session TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_category
			ON memories(category);

		CREATE TABLE IF NOT EXISTS emotions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL,
			confidence REAL NOT NULL,
			session TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_emotions_created
			ON emotions(created_at);

		CREATE TABLE IF NOT EXISTS session_state (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendMessage adds a message to the history log
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, kind, sender, recipient, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Kind,
		msg.Sender,
		msg.Recipient,
		msg.Content,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "kind", msg.Kind, "sender", msg.Sender)
	return nil
}

// QueryMessages returns messages involving session since the given time
func (s *SQLiteStore) QueryMessages(ctx context.Context, session string, since time.Time, limit int) ([]*Message, error) {
	where := "created_at >= ?"
	args := []any{formatTime(since)}
	if session != "" {
		where += " AND (sender = ? OR recipient = ?)"
		args = append(args, session, session)
	}

	// Take the N most recent, then return them in chronological order
	query := `
		SELECT id, kind, sender, recipient, content, created_at FROM (
			SELECT seq, id, kind, sender, recipient, content, created_at
			FROM messages
			WHERE ` + where + `
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	args = append(args, sqlLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Kind, &msg.Sender, &msg.Recipient, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// AppendMemory adds an extracted memory
func (s *SQLiteStore) AppendMemory(ctx context.Context, mem *Memory) error {
	query := `
		INSERT INTO memories (id, text, category, session, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		mem.ID,
		mem.Text,
		mem.Category,
		mem.Session,
		formatTime(mem.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}

	s.logger.Debug("saved memory", "id", mem.ID, "category", mem.Category)
	return nil
}

// QueryMemories returns memories, optionally restricted to one category
func (s *SQLiteStore) QueryMemories(ctx context.Context, category string) ([]*Memory, error) {
	query := `SELECT id, text, category, session, created_at FROM memories`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		var mem Memory
		var createdAt string
		if err := rows.Scan(&mem.ID, &mem.Text, &mem.Category, &mem.Session, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		if mem.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing memory created_at: %w", err)
		}
		memories = append(memories, &mem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory rows: %w", err)
	}
	return memories, nil
}

// ClearMemories deletes memories, optionally restricted to one category
func (s *SQLiteStore) ClearMemories(ctx context.Context, category string) (int64, error) {
	query := `DELETE FROM memories`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting memories: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	s.logger.Info("cleared memories", "category", category, "count", n)
	return n, nil
}

// AppendEmotion adds an entry to the mood history
func (s *SQLiteStore) AppendEmotion(ctx context.Context, e *Emotion) error {
	query := `
		INSERT INTO emotions (id, label, confidence, session, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Label,
		e.Confidence,
		e.Session,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting emotion: %w", err)
	}
	return nil
}

// QueryEmotions returns mood history since the given time, oldest first
func (s *SQLiteStore) QueryEmotions(ctx context.Context, since time.Time, limit int) ([]*Emotion, error) {
	query := `
		SELECT id, label, confidence, session, created_at FROM (
			SELECT seq, id, label, confidence, session, created_at
			FROM emotions
			WHERE created_at >= ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, formatTime(since), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying emotions: %w", err)
	}
	defer rows.Close()

	var emotions []*Emotion
	for rows.Next() {
		var e Emotion
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Label, &e.Confidence, &e.Session, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning emotion row: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing emotion created_at: %w", err)
		}
		emotions = append(emotions, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating emotion rows: %w", err)
	}
	return emotions, nil
}

// PutState stores a value under key, replacing any previous value
func (s *SQLiteStore) PutState(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT OR REPLACE INTO session_state (key, value, updated_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	s.logger.Debug("saved state", "key", key, "size", len(value))
	return nil
}

// GetState returns the value stored under key
func (s *SQLiteStore) GetState(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM session_state WHERE key = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying state: %w", err)
	}
	return value, nil
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
