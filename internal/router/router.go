// ABOUTME: Router dispatches client envelopes by kind and delivers AI outcomes
// ABOUTME: Handles join/leave lifecycle, trigger submission, persistence and memory dedupe

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/petchat-gateway/internal/ai"
	"github.com/2389/petchat-gateway/internal/dedupe"
	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/session"
	"github.com/2389/petchat-gateway/internal/store"
	"github.com/2389/petchat-gateway/internal/trigger"
)

// ErrLeave is returned by Dispatch when the client asked to end its session.
var ErrLeave = errors.New("session left")

// stateKeyPrefix namespaces per-identity trigger counters in the store.
const stateKeyPrefix = "session:"

// Submitter accepts AI tasks without blocking.
type Submitter interface {
	Submit(task trigger.Task) (*ai.Handle, error)
}

// Options configures a Router. Registry, Scheduler, Submitter and Store are
// required; Memories may be nil to disable memory dedupe.
type Options struct {
	Registry  *session.Registry
	Scheduler *trigger.Scheduler
	Submitter Submitter
	Store     store.Store
	Memories  *dedupe.Cache
	Logger    *slog.Logger
}

// Stats are cumulative routing counters.
type Stats struct {
	Sessions           int   `json:"sessions"`
	ChatRouted         int64 `json:"chat_routed"`
	PrivateRouted      int64 `json:"private_routed"`
	Rejected           int64 `json:"rejected"`
	TasksSubmitted     int64 `json:"tasks_submitted"`
	TasksRefused       int64 `json:"tasks_refused"`
	OutcomesDelivered  int64 `json:"outcomes_delivered"`
	MemoriesSuppressed int64 `json:"memories_suppressed"`
}

// Router routes envelopes between live sessions.
type Router struct {
	registry  *session.Registry
	scheduler *trigger.Scheduler
	submitter Submitter
	store     store.Store
	memories  *dedupe.Cache
	logger    *slog.Logger
	now       func() time.Time

	chatRouted         atomic.Int64
	privateRouted      atomic.Int64
	rejected           atomic.Int64
	tasksSubmitted     atomic.Int64
	tasksRefused       atomic.Int64
	outcomesDelivered  atomic.Int64
	memoriesSuppressed atomic.Int64
}

// New creates a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  opts.Registry,
		scheduler: opts.Scheduler,
		submitter: opts.Submitter,
		store:     opts.Store,
		memories:  opts.Memories,
		logger:    logger.With("component", "router"),
		now:       time.Now,
	}
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Sessions:           r.registry.Len(),
		ChatRouted:         r.chatRouted.Load(),
		PrivateRouted:      r.privateRouted.Load(),
		Rejected:           r.rejected.Load(),
		TasksSubmitted:     r.tasksSubmitted.Load(),
		TasksRefused:       r.tasksRefused.Load(),
		OutcomesDelivered:  r.outcomesDelivered.Load(),
		MemoriesSuppressed: r.memoriesSuppressed.Load(),
	}
}

// Join registers the session announced by env, which must be the first
// envelope on a connection. On success the other sessions see a JOIN and the
// new session receives a ROSTER of everyone else. A taken identity fails with
// protocol.ErrDuplicateIdentity and leaves the registry untouched.
func (r *Router) Join(ctx context.Context, out session.Outbound, env protocol.Envelope) (*session.Session, error) {
	if env.Kind != protocol.KindJoin {
		return nil, fmt.Errorf("%w: got %q before join", protocol.ErrNotJoined, env.Kind)
	}
	identity := strings.TrimSpace(env.Sender)
	if identity == "" {
		return nil, fmt.Errorf("%w: join without sender", protocol.ErrInvalidEnvelope)
	}
	if identity == protocol.ServerSender {
		return nil, fmt.Errorf("%w: %q is reserved", protocol.ErrDuplicateIdentity, identity)
	}

	s := session.NewSession(identity, out)
	if err := r.registry.Register(s); err != nil {
		r.rejected.Add(1)
		return nil, err
	}
	r.restoreState(ctx, s)

	joined := protocol.New(protocol.KindJoin, identity, identity+" joined")
	if _, err := r.registry.Broadcast(joined, identity); err != nil {
		r.logger.Error("broadcasting join", "session", identity, "error", err)
	}

	roster, err := protocol.New(protocol.KindRoster, protocol.ServerSender, "").
		WithData(protocol.RosterData{Users: r.registry.Identities(identity)})
	if err == nil {
		err = r.send(s, roster)
	}
	if err != nil {
		r.logger.Warn("sending roster", "session", identity, "error", err)
	}

	r.logger.Info("session joined", "session", identity, "sessions", r.registry.Len())
	return s, nil
}

// Leave removes s and tells the remaining sessions. Calling it for a session
// that is no longer registered does nothing.
func (r *Router) Leave(ctx context.Context, s *session.Session) {
	if cur, ok := r.registry.Get(s.Identity); !ok || cur != s {
		return
	}
	// Counters are saved while the identity is still taken so a quick
	// re-join cannot restore stale ones.
	r.saveState(ctx, s)
	if !r.registry.Unregister(s) {
		return
	}

	left := protocol.New(protocol.KindLeave, s.Identity, s.Identity+" left")
	if _, err := r.registry.Broadcast(left, s.Identity); err != nil {
		r.logger.Error("broadcasting leave", "session", s.Identity, "error", err)
	}
	r.logger.Info("session left", "session", s.Identity, "messages", s.MessageCount(), "sessions", r.registry.Len())
}

// Dispatch routes one client envelope from s. Client-caused failures
// (protocol.IsClientError) should be reported to the client and the
// connection kept open. ErrLeave means the client ended its session.
func (r *Router) Dispatch(ctx context.Context, s *session.Session, env protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		r.rejected.Add(1)
		return err
	}
	if !env.Kind.ClientOriginated() {
		r.rejected.Add(1)
		return fmt.Errorf("%w: %s is server-only", protocol.ErrForbiddenKind, env.Kind)
	}

	env.ID = uuid.NewString()
	env.Sender = s.Identity
	env.Timestamp = r.now().UTC()

	switch env.Kind {
	case protocol.KindChat:
		return r.chat(ctx, s, env)
	case protocol.KindPrivate:
		return r.private(ctx, s, env)
	case protocol.KindTyping:
		_, err := r.registry.Broadcast(env, s.Identity)
		return err
	case protocol.KindPing:
		return r.send(s, protocol.New(protocol.KindPong, protocol.ServerSender, env.Content))
	case protocol.KindLeave:
		return ErrLeave
	case protocol.KindJoin:
		r.rejected.Add(1)
		return fmt.Errorf("%w: already joined as %s", protocol.ErrInvalidEnvelope, s.Identity)
	default:
		r.rejected.Add(1)
		return fmt.Errorf("%w: %s", protocol.ErrForbiddenKind, env.Kind)
	}
}

func (r *Router) chat(ctx context.Context, s *session.Session, env protocol.Envelope) error {
	if _, err := r.registry.Broadcast(env, s.Identity); err != nil {
		return err
	}
	s.CountMessage()
	r.chatRouted.Add(1)
	r.persistMessage(ctx, env)

	for _, task := range r.scheduler.Observe(s.Triggers, env) {
		if _, err := r.submitter.Submit(task); err != nil {
			r.tasksRefused.Add(1)
			r.logger.Warn("ai task not accepted", "task_id", task.ID, "kind", task.Kind, "session", s.Identity, "error", err)
			continue
		}
		r.tasksSubmitted.Add(1)
	}
	return nil
}

func (r *Router) private(ctx context.Context, s *session.Session, env protocol.Envelope) error {
	if err := r.registry.SendTo(env.Recipient, env); err != nil {
		if errors.Is(err, protocol.ErrRecipientNotFound) {
			r.rejected.Add(1)
		}
		return err
	}
	r.privateRouted.Add(1)
	r.persistMessage(ctx, env)
	return nil
}

// Run delivers AI results until ctx is canceled.
func (r *Router) Run(ctx context.Context, results <-chan ai.Result) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-results:
			r.Deliver(ctx, res)
		}
	}
}

// Deliver turns one AI outcome into a synthetic envelope and routes it.
func (r *Router) Deliver(ctx context.Context, res ai.Result) {
	logger := r.logger.With("task_id", res.Task.ID, "kind", res.Task.Kind, "session", res.Task.Session)

	var err error
	switch o := res.Outcome.(type) {
	case ai.EmotionResult:
		err = r.deliverEmotion(ctx, res.Task, o)
	case ai.MemorySet:
		err = r.deliverMemories(ctx, res.Task, o)
	case ai.Suggestion:
		err = r.deliverSuggestion(res.Task, o)
	default:
		err = fmt.Errorf("unexpected outcome type %T", res.Outcome)
	}

	if err != nil {
		logger.Warn("outcome not delivered", "error", err)
		return
	}
	r.outcomesDelivered.Add(1)
	logger.Debug("outcome delivered")
}

func (r *Router) deliverEmotion(ctx context.Context, task trigger.Task, o ai.EmotionResult) error {
	env, err := protocol.New(protocol.KindEmotion, protocol.ServerSender, o.Label).
		WithData(protocol.EmotionData{Label: o.Label, Confidence: o.Confidence})
	if err != nil {
		return err
	}
	if _, err := r.registry.Broadcast(env, ""); err != nil {
		return err
	}

	err = r.store.AppendEmotion(ctx, &store.Emotion{
		ID:         env.ID,
		Label:      o.Label,
		Confidence: o.Confidence,
		Session:    task.Session,
		CreatedAt:  env.Timestamp,
	})
	if err != nil {
		r.logger.Error("persisting emotion", "task_id", task.ID, "error", err)
	}
	return nil
}

func (r *Router) deliverMemories(ctx context.Context, task trigger.Task, o ai.MemorySet) error {
	fresh := make([]protocol.MemoryItem, 0, len(o.Items))
	for _, item := range o.Items {
		if r.memories != nil && !r.memories.Add(dedupe.Key(item.Category, item.Text)) {
			r.memoriesSuppressed.Add(1)
			continue
		}
		fresh = append(fresh, item)
	}
	if len(fresh) == 0 {
		r.logger.Debug("all extracted memories already known", "task_id", task.ID, "count", len(o.Items))
		return nil
	}

	texts := make([]string, len(fresh))
	for i, item := range fresh {
		texts[i] = item.Text
	}
	env, err := protocol.New(protocol.KindMemory, protocol.ServerSender, strings.Join(texts, "; ")).
		WithData(protocol.MemoryData{Memories: fresh})
	if err != nil {
		return err
	}
	if _, err := r.registry.Broadcast(env, ""); err != nil {
		return err
	}

	for _, item := range fresh {
		err := r.store.AppendMemory(ctx, &store.Memory{
			ID:        uuid.NewString(),
			Text:      item.Text,
			Category:  item.Category,
			Session:   task.Session,
			CreatedAt: env.Timestamp,
		})
		if err != nil {
			r.logger.Error("persisting memory", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

func (r *Router) deliverSuggestion(task trigger.Task, o ai.Suggestion) error {
	env, err := protocol.New(protocol.KindSuggestion, protocol.ServerSender, o.Text).
		WithData(protocol.SuggestionData{Title: o.Title, Kind: o.Kind})
	if err != nil {
		return err
	}
	return r.registry.SendTo(task.Session, env)
}

// send enqueues env on a single session's connection.
func (r *Router) send(s *session.Session, env protocol.Envelope) error {
	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return s.Conn.Enqueue(protocol.Encode(payload))
}

func (r *Router) persistMessage(ctx context.Context, env protocol.Envelope) {
	err := r.store.AppendMessage(ctx, &store.Message{
		ID:        env.ID,
		Kind:      string(env.Kind),
		Sender:    env.Sender,
		Recipient: env.Recipient,
		Content:   env.Content,
		CreatedAt: env.Timestamp,
	})
	if err != nil {
		r.logger.Error("persisting message", "id", env.ID, "kind", env.Kind, "error", err)
	}
}

func (r *Router) restoreState(ctx context.Context, s *session.Session) {
	data, err := r.store.GetState(ctx, stateKeyPrefix+s.Identity)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn("loading session state", "session", s.Identity, "error", err)
		return
	}

	state := trigger.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		r.logger.Warn("decoding session state", "session", s.Identity, "error", err)
		return
	}
	s.Triggers = state
	r.logger.Debug("restored trigger counters", "session", s.Identity, "counts", state.Counts)
}

func (r *Router) saveState(ctx context.Context, s *session.Session) {
	data, err := json.Marshal(s.Triggers)
	if err != nil {
		r.logger.Error("encoding session state", "session", s.Identity, "error", err)
		return
	}
	if err := r.store.PutState(ctx, stateKeyPrefix+s.Identity, data); err != nil {
		r.logger.Error("saving session state", "session", s.Identity, "error", err)
	}
}
