// ABOUTME: Envelope type carried in frame payloads and its kind enumeration
// ABOUTME: Validation, JSON decoding and constructors for server-originated envelopes

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind tags an envelope with its delivery policy.
type Kind string

const (
	KindChat       Kind = "chat"
	KindPrivate    Kind = "private"
	KindSystem     Kind = "system"
	KindSuggestion Kind = "suggestion"
	KindMemory     Kind = "memory"
	KindEmotion    Kind = "emotion"
	KindJoin       Kind = "join"
	KindLeave      Kind = "leave"
	KindTyping     Kind = "typing"
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
	KindRoster     Kind = "roster"
)

var knownKinds = map[Kind]bool{
	KindChat: true, KindPrivate: true, KindSystem: true, KindSuggestion: true,
	KindMemory: true, KindEmotion: true, KindJoin: true, KindLeave: true,
	KindTyping: true, KindPing: true, KindPong: true, KindRoster: true,
}

// Known reports whether k is part of the protocol.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// ClientOriginated reports whether a client is allowed to send k.
func (k Kind) ClientOriginated() bool {
	switch k {
	case KindChat, KindPrivate, KindJoin, KindLeave, KindTyping, KindPing:
		return true
	default:
		return false
	}
}

// Envelope is the decoded payload of a frame.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Kind      Kind            `json:"kind"`
	Sender    string          `json:"sender,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate checks structural invariants: the kind is known and a recipient
// is present exactly when the kind is private.
func (e *Envelope) Validate() error {
	if !e.Kind.Known() {
		return fmt.Errorf("%w: %q", ErrForbiddenKind, e.Kind)
	}
	if e.Kind == KindPrivate && e.Recipient == "" {
		return fmt.Errorf("%w: private message without recipient", ErrInvalidEnvelope)
	}
	if e.Kind != KindPrivate && e.Recipient != "" {
		return fmt.Errorf("%w: recipient set on %s message", ErrInvalidEnvelope, e.Kind)
	}
	return nil
}

// DecodeEnvelope parses a frame payload. Payloads that are not UTF-8 or not a
// JSON object fail with ErrMalformedPayload. Kind and recipient rules are
// checked separately by Validate.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if !utf8.Valid(payload) {
		return env, fmt.Errorf("%w: invalid UTF-8", ErrMalformedPayload)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return env, nil
}

// EncodeEnvelope serializes env into a frame payload.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return payload, nil
}

// New returns a server-stamped envelope with a fresh ID and timestamp.
func New(kind Kind, sender, content string) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// WithData returns a copy of e carrying v as its data object.
func (e Envelope) WithData(v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return e, fmt.Errorf("encoding %s data: %w", e.Kind, err)
	}
	e.Data = data
	return e, nil
}

// ServerSender is the sender identity stamped on server-originated envelopes.
const ServerSender = "server"

// NoticeData is the data object of a SYSTEM envelope.
type NoticeData struct {
	Code string `json:"code"`
}

// Notice builds a SYSTEM envelope describing err for the client.
func Notice(err error) Envelope {
	env := New(KindSystem, ServerSender, err.Error())
	env.Data, _ = json.Marshal(NoticeData{Code: ErrorCode(err)})
	return env
}

// RosterData is the data object of a ROSTER envelope.
type RosterData struct {
	Users []string `json:"users"`
}

// EmotionData is the data object of an EMOTION envelope.
type EmotionData struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// MemoryItem is one extracted memory.
type MemoryItem struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// MemoryData is the data object of a MEMORY envelope.
type MemoryData struct {
	Memories []MemoryItem `json:"memories"`
}

// SuggestionData is the data object of a SUGGESTION envelope.
type SuggestionData struct {
	Title string `json:"title,omitempty"`
	Kind  string `json:"kind"`
}
