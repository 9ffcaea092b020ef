// ABOUTME: Bounded worker pool that executes AI tasks with retry and backoff
// ABOUTME: Hands parsed outcomes to the router through a results channel and per-task handles

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/petchat-gateway/internal/provider"
	"github.com/2389/petchat-gateway/internal/trigger"
)

var (
	// ErrQueueFull is returned by Submit when the task queue is at capacity.
	ErrQueueFull = errors.New("ai task queue full")

	// ErrStopped is returned once the orchestrator has shut down.
	ErrStopped = errors.New("ai orchestrator stopped")

	// ErrDeadlineExceeded means the task ran out of time; any late reply
	// was discarded.
	ErrDeadlineExceeded = errors.New("ai task deadline exceeded")

	// ErrAttemptsExhausted means every attempt failed transiently.
	ErrAttemptsExhausted = errors.New("ai task retries exhausted")
)

// Config tunes the worker pool and retry policy.
type Config struct {
	Model       string
	Workers     int
	QueueSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// EmotionLabels bounds the moods accepted from score-map replies.
	EmotionLabels []string
}

// DefaultConfig returns the stock pool and retry settings.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   64,
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,

		EmotionLabels: slices.Clone(DefaultEmotionLabels),
	}
}

// Result is a successfully parsed outcome for a task.
type Result struct {
	Task    trigger.Task
	Outcome Outcome
}

// Stats are cumulative task counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Empty     int64 `json:"empty"`
	Dropped   int64 `json:"dropped"`
	Retries   int64 `json:"retries"`
}

// Handle tracks one submitted task.
type Handle struct {
	TaskID string

	done    chan struct{}
	outcome Outcome
	err     error
}

func newHandle(id string) *Handle {
	return &Handle{TaskID: id, done: make(chan struct{})}
}

func (h *Handle) complete(outcome Outcome, err error) {
	h.outcome = outcome
	h.err = err
	close(h.done)
}

// Done is closed when the task has finished, successfully or not.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome. It must only be called after Done is closed.
// A nil outcome with a nil error means the model had nothing to report.
func (h *Handle) Result() (Outcome, error) {
	return h.outcome, h.err
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	task   trigger.Task
	handle *Handle
}

// Orchestrator runs AI tasks on a fixed pool of workers.
type Orchestrator struct {
	cfg     Config
	kind    provider.Kind
	adapter provider.Adapter
	queue   chan *job
	results chan Result
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
	empty     atomic.Int64
	dropped   atomic.Int64
	retries   atomic.Int64
}

// New creates an orchestrator. The adapter is chosen from adapters by the
// configured model name and fixed for the orchestrator's lifetime.
func New(cfg Config, adapters map[provider.Kind]provider.Adapter, logger *slog.Logger) (*Orchestrator, error) {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.EmotionLabels = normalizeLabels(cfg.EmotionLabels)
	if len(cfg.EmotionLabels) == 0 {
		cfg.EmotionLabels = defaults.EmotionLabels
	}

	kind := provider.Select(cfg.Model)
	adapter, ok := adapters[kind]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("no %s adapter configured for model %q", kind, cfg.Model)
	}

	return &Orchestrator{
		cfg:     cfg,
		kind:    kind,
		adapter: adapter,
		queue:   make(chan *job, cfg.QueueSize),
		results: make(chan Result, cfg.QueueSize),
		logger:  logger.With("component", "ai", "provider", string(kind)),
		now:     time.Now,
	}, nil
}

func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// Provider returns the selected provider family.
func (o *Orchestrator) Provider() provider.Kind {
	return o.kind
}

// Results delivers parsed outcomes in completion order.
func (o *Orchestrator) Results() <-chan Result {
	return o.results
}

// Stats returns a snapshot of the task counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Submitted: o.submitted.Load(),
		Completed: o.completed.Load(),
		Empty:     o.empty.Load(),
		Dropped:   o.dropped.Load(),
		Retries:   o.retries.Load(),
	}
}

// Submit queues task without blocking.
func (o *Orchestrator) Submit(task trigger.Task) (*Handle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.stopped {
		return nil, ErrStopped
	}

	j := &job{task: task, handle: newHandle(task.ID)}
	select {
	case o.queue <- j:
		o.submitted.Add(1)
		return j.handle, nil
	default:
		o.dropped.Add(1)
		o.logger.Warn("task queue full, dropping task", "task_id", task.ID, "kind", task.Kind, "session", task.Session)
		return nil, ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is canceled. Tasks still
// queued at shutdown complete with ErrStopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range o.cfg.Workers {
		g.Go(func() error {
			o.worker(gctx, i)
			return nil
		})
	}
	o.logger.Info("ai workers started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)

	err := g.Wait()
	o.stop()
	return err
}

func (o *Orchestrator) stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()

	for {
		select {
		case j := <-o.queue:
			o.dropped.Add(1)
			j.handle.complete(nil, ErrStopped)
		default:
			o.logger.Info("ai workers stopped")
			return
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.queue:
			o.handle(ctx, j, id)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, j *job, worker int) {
	logger := o.logger.With("task_id", j.task.ID, "kind", j.task.Kind, "session", j.task.Session, "worker", worker)
	start := o.now()

	outcome, err := o.execute(ctx, &j.task, logger)
	switch {
	case err != nil:
		o.dropped.Add(1)
		logDrop(logger, err)
	case outcome == nil:
		o.empty.Add(1)
		logger.Debug("task produced no outcome", "duration", o.now().Sub(start))
	default:
		o.completed.Add(1)
		logger.Info("task completed", "duration", o.now().Sub(start))
		select {
		case o.results <- Result{Task: j.task, Outcome: outcome}:
		case <-ctx.Done():
			err = ErrStopped
			outcome = nil
		}
	}
	j.handle.complete(outcome, err)
}

// execute performs the attempts for one task, recording the attempt count
// on it.
func (o *Orchestrator) execute(ctx context.Context, task *trigger.Task, logger *slog.Logger) (Outcome, error) {
	req, err := BuildRequest(*task)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if task.Expired(o.now()) {
			return nil, fmt.Errorf("%w before attempt %d", ErrDeadlineExceeded, attempt)
		}
		task.Attempt = attempt

		raw, err := o.adapter.Submit(ctx, req)
		if task.Expired(o.now()) {
			return nil, fmt.Errorf("%w: reply to attempt %d arrived late", ErrDeadlineExceeded, attempt)
		}
		if err == nil {
			return parseOutcome(task.Kind, raw, o.cfg.EmotionLabels)
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrStopped, err)
		}
		if provider.IsPermanent(err) {
			return nil, err
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}

		delay := Backoff(attempt, o.cfg.BackoffBase, o.cfg.BackoffMax)
		if !task.Deadline.IsZero() && o.now().Add(delay).After(task.Deadline) {
			return nil, fmt.Errorf("%w: no time left to retry after attempt %d: %w", ErrDeadlineExceeded, attempt, err)
		}

		o.retries.Add(1)
		logger.Warn("provider attempt failed, retrying", "attempt", attempt, "max_attempts", o.cfg.MaxAttempts, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStopped, err)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, o.cfg.MaxAttempts, lastErr)
}

func logDrop(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrStopped):
		logger.Debug("task abandoned at shutdown", "error", err)
	case errors.Is(err, ErrParseFailure):
		logger.Warn("dropping unparseable reply", "error", err)
	case errors.Is(err, ErrDeadlineExceeded):
		logger.Warn("task abandoned past deadline", "error", err)
	case provider.IsPermanent(err):
		logger.Error("provider rejected task", "error", err)
	default:
		logger.Warn("task failed", "error", err)
	}
}
