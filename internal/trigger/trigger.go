// ABOUTME: Trigger scheduler that turns the chat stream into AI analysis tasks
// ABOUTME: Per-session cadence counters plus keyword and command matching for suggestions

package trigger

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/petchat-gateway/internal/protocol"
)

// Kind identifies one of the independent analysis cadences.
type Kind string

const (
	KindEmotion    Kind = "emotion"
	KindMemory     Kind = "memory"
	KindSuggestion Kind = "suggestion"
)

// Kinds lists every trigger kind in evaluation order.
var Kinds = []Kind{KindEmotion, KindMemory, KindSuggestion}

// Reasons a task was fired.
const (
	ReasonCadence = "cadence"
	ReasonKeyword = "keyword"
	ReasonCommand = "command"
)

// Policy configures one cadence. A zero Threshold disables the cadence.
// Window is how many recent chat messages are handed to the task.
type Policy struct {
	Threshold int
	Window    int
}

// Config holds trigger policy. All values are injectable so tests and
// deployments can choose their own thresholds and keywords.
type Config struct {
	Emotion    Policy
	Memory     Policy
	Suggestion Policy

	// Keywords fire the suggestion trigger immediately when any of them
	// appears in a chat message (case-insensitive substring match).
	Keywords []string

	// Command fires the suggestion trigger when a message starts with it.
	Command string

	// HistorySize bounds the room history kept for task context. It is
	// raised to the largest window when smaller.
	HistorySize int

	// TaskDeadline is how long a fired task may take overall, retries
	// included. Zero means no deadline.
	TaskDeadline time.Duration
}

// DefaultConfig returns the stock cadences.
func DefaultConfig() Config {
	return Config{
		Emotion:      Policy{Threshold: 5, Window: 5},
		Memory:       Policy{Threshold: 10, Window: 10},
		Suggestion:   Policy{Threshold: 3, Window: 5},
		Keywords:     []string{"tomorrow", "next week", "weekend", "plan", "schedule", "dinner", "trip"},
		Command:      "/ai",
		HistorySize:  50,
		TaskDeadline: 2 * time.Minute,
	}
}

func (c Config) policy(k Kind) Policy {
	switch k {
	case KindEmotion:
		return c.Emotion
	case KindMemory:
		return c.Memory
	case KindSuggestion:
		return c.Suggestion
	default:
		return Policy{}
	}
}

// State holds one session's cadence counters. It is owned by the goroutine
// dispatching that session's messages and needs no locking.
type State struct {
	Counts map[Kind]int `json:"counts"`
}

// NewState returns zeroed counters.
func NewState() *State {
	return &State{Counts: make(map[Kind]int, len(Kinds))}
}

// Task is one scheduled AI analysis. It is never persisted.
type Task struct {
	ID       string
	Kind     Kind
	Session  string
	Context  []protocol.Envelope
	Reason   string
	Attempt  int
	Deadline time.Time
	Created  time.Time
}

// Expired reports whether the task deadline has passed at now.
func (t Task) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && !now.Before(t.Deadline)
}

// Scheduler counts chat messages and decides when to fire tasks.
// The room history it keeps for context is shared by all sessions.
type Scheduler struct {
	cfg      Config
	keywords []string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	history []protocol.Envelope
}

// NewScheduler creates a scheduler with the given policy.
func NewScheduler(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	// The history must hold every window in full.
	cfg.HistorySize = max(cfg.HistorySize, maxWindow(cfg))

	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &Scheduler{
		cfg:      cfg,
		keywords: keywords,
		logger:   logger.With("component", "trigger"),
		now:      time.Now,
	}
}

// Observe records an accepted CHAT envelope, advances the sender's counters
// and returns the tasks that fire for it. At most one task per kind fires for
// a single message.
func (s *Scheduler) Observe(state *State, env protocol.Envelope) []Task {
	if state.Counts == nil {
		state.Counts = make(map[Kind]int, len(Kinds))
	}
	history := s.record(env)
	now := s.now()

	var tasks []Task
	for _, kind := range Kinds {
		reason := ""

		if p := s.cfg.policy(kind); p.Threshold > 0 {
			state.Counts[kind]++
			if state.Counts[kind] >= p.Threshold {
				state.Counts[kind] = 0
				reason = ReasonCadence
			}
		}

		if kind == KindSuggestion {
			// An explicit request takes precedence in the reported reason;
			// the cadence counter above has already been reset if it fired.
			if r := s.explicitReason(env.Content); r != "" {
				reason = r
			}
		}

		if reason == "" {
			continue
		}

		task := Task{
			ID:      uuid.NewString(),
			Kind:    kind,
			Session: env.Sender,
			Context: tail(history, s.window(kind)),
			Reason:  reason,
			Created: now,
		}
		if s.cfg.TaskDeadline > 0 {
			task.Deadline = now.Add(s.cfg.TaskDeadline)
		}
		s.logger.Debug("trigger fired", "kind", kind, "session", env.Sender, "reason", reason, "task_id", task.ID)
		tasks = append(tasks, task)
	}
	return tasks
}

// Recent returns up to n of the most recent chat envelopes, oldest first.
func (s *Scheduler) Recent(n int) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.history, n)
}

// Config returns the active policy.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// record appends env to the room history and returns a snapshot of it.
func (s *Scheduler) record(env protocol.Envelope) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, env)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}

	snapshot := make([]protocol.Envelope, len(s.history))
	copy(snapshot, s.history)
	return snapshot
}

func (s *Scheduler) explicitReason(content string) string {
	text := strings.TrimSpace(content)
	if cmd := s.cfg.Command; cmd != "" && strings.HasPrefix(text, cmd) {
		rest := text[len(cmd):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return ReasonCommand
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			return ReasonKeyword
		}
	}
	return ""
}

func (s *Scheduler) window(k Kind) int {
	if w := s.cfg.policy(k).Window; w > 0 {
		return w
	}
	return s.cfg.HistorySize
}

func maxWindow(cfg Config) int {
	n := 1
	for _, k := range Kinds {
		n = max(n, cfg.policy(k).Window)
	}
	return n
}

// tail returns a copy of the last n elements of envs.
func tail(envs []protocol.Envelope, n int) []protocol.Envelope {
	if n <= 0 || n > len(envs) {
		n = len(envs)
	}
	out := make([]protocol.Envelope, n)
	copy(out, envs[len(envs)-n:])
	return out
}
