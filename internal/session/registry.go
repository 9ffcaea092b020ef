// ABOUTME: Registry of live sessions keyed by client-chosen identity
// ABOUTME: Broadcast snapshots recipients under the lock and enqueues outside it

package session

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/trigger"
)

// Outbound is the write side of a connection as seen by the registry.
type Outbound interface {
	Enqueue(frame []byte) error
}

// Session is a live, identified connection plus its trigger counters.
type Session struct {
	Identity string
	Conn     Outbound
	JoinedAt time.Time

	// Triggers is owned by the goroutine dispatching this session's messages.
	Triggers *trigger.State

	messageCount atomic.Int64
}

// NewSession creates a session for identity on conn.
func NewSession(identity string, conn Outbound) *Session {
	return &Session{
		Identity: identity,
		Conn:     conn,
		JoinedAt: time.Now().UTC(),
		Triggers: trigger.NewState(),
	}
}

// CountMessage records one accepted chat message and returns the new total.
func (s *Session) CountMessage() int64 {
	return s.messageCount.Add(1)
}

// MessageCount returns the number of accepted chat messages.
func (s *Session) MessageCount() int64 {
	return s.messageCount.Load()
}

// Info is a point-in-time description of a session.
type Info struct {
	Identity     string    `json:"identity"`
	JoinedAt     time.Time `json:"joined_at"`
	MessageCount int64     `json:"message_count"`
}

// Registry tracks live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "registry"),
	}
}

// Register adds s. It fails with protocol.ErrDuplicateIdentity, leaving the
// registry untouched, if the identity is already live.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.Identity]; exists {
		return fmt.Errorf("%w: %s", protocol.ErrDuplicateIdentity, s.Identity)
	}
	r.sessions[s.Identity] = s

	r.logger.Info("session registered", "session", s.Identity, "total", len(r.sessions))
	return nil
}

// Unregister removes s if it is still the live session for its identity.
// It reports whether anything was removed.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.Identity]; !ok || current != s {
		return false
	}
	delete(r.sessions, s.Identity)

	r.logger.Info("session unregistered", "session", s.Identity, "total", len(r.sessions))
	return true
}

// Get returns the live session for identity.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the live sessions except exclude.
func (r *Registry) Snapshot(exclude string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != exclude {
			out = append(out, s)
		}
	}
	return out
}

// Identities returns the sorted identities of live sessions except exclude.
func (r *Registry) Identities(exclude string) []string {
	snapshot := r.Snapshot(exclude)
	ids := make([]string, 0, len(snapshot))
	for _, s := range snapshot {
		ids = append(ids, s.Identity)
	}
	slices.Sort(ids)
	return ids
}

// List describes every live session, sorted by identity.
func (r *Registry) List() []Info {
	snapshot := r.Snapshot("")
	out := make([]Info, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, Info{
			Identity:     s.Identity,
			JoinedAt:     s.JoinedAt,
			MessageCount: s.MessageCount(),
		})
	}
	slices.SortFunc(out, func(a, b Info) int {
		return cmp.Compare(a.Identity, b.Identity)
	})
	return out
}

// Broadcast encodes env once and enqueues it to every live session except
// exclude. It returns the number of sessions that accepted the frame.
// A failed enqueue affects only that recipient.
func (r *Registry) Broadcast(env protocol.Envelope, exclude string) (int, error) {
	frame, err := encodeFrame(env)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, s := range r.Snapshot(exclude) {
		if err := s.Conn.Enqueue(frame); err != nil {
			r.logger.Debug("broadcast enqueue failed", "session", s.Identity, "kind", env.Kind, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// SendTo enqueues env to a single session. It fails with
// protocol.ErrRecipientNotFound if identity is not live.
func (r *Registry) SendTo(identity string, env protocol.Envelope) error {
	s, ok := r.Get(identity)
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrRecipientNotFound, identity)
	}
	frame, err := encodeFrame(env)
	if err != nil {
		return err
	}
	return s.Conn.Enqueue(frame)
}

func encodeFrame(env protocol.Envelope) ([]byte, error) {
	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(payload), nil
}
