// Package tasks implements the agent's task scheduler: one time-ordered,
// in-memory queue of pending turns and maintenance jobs. Execution is
// strictly serialized — a single task runs at a time process-wide — which
// removes any need for locks around shared conversational state. The
// queue does not survive restarts.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/mimic/pkg/mimic/platform"
)

// Kind selects the handler for a task.
type Kind string

const (
	// KindPing is a reactive chat turn filed by the message collector.
	KindPing Kind = "ping"

	// KindWork is a self-directed instruction turn (reminders, scheduled
	// actions).
	KindWork Kind = "work"

	// KindDeadChat is an idle-channel revive turn.
	KindDeadChat Kind = "deadchat"
)

// Context carries the data a handler needs to run a task. Fields are
// populated according to the task kind.
type Context struct {
	// ChannelID is the target channel (all kinds).
	ChannelID string

	// GuildID is the guild, when the channel is in one.
	GuildID string

	// AuthorID is the user the turn is directed at, when known.
	AuthorID string

	// Messages are the collected trigger messages (ping).
	Messages []*platform.Message

	// Triggered records whether the burst explicitly triggered the agent
	// (ping).
	Triggered bool

	// Instructions are the self-directed instructions (work, deadchat).
	Instructions string
}

// Task is one scheduled unit of work, consumed exactly once.
type Task struct {
	ID      string
	Kind    Kind
	RunAt   time.Time
	Context Context
}

// Handler executes tasks of one kind.
type Handler interface {
	// Kind returns the task kind this handler owns.
	Kind() Kind

	// MaxQueue is how many tasks of this kind may wait in the queue.
	MaxQueue() int

	// Check decides whether a task should be admitted at all.
	Check(c Context) bool

	// Run executes the task. Errors are logged and the task discarded;
	// there is no retry.
	Run(ctx context.Context, task *Task) error
}

// Scheduler owns the task queue. All mutation happens through Add and the
// internal timer; no other component reaches into the queue.
type Scheduler struct {
	handlers map[Kind]Handler

	mu      sync.Mutex
	queue   map[string]*Task
	current *Task
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New creates a scheduler. Handlers must be registered before Start.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		handlers: make(map[Kind]Handler),
		queue:    make(map[string]*Task),
		logger:   logger.With("component", "scheduler"),
	}
}

// Register installs a handler for its kind. Called once at startup.
func (s *Scheduler) Register(h Handler) {
	s.handlers[h.Kind()] = h
}

// Start begins processing. The scheduler runs until Stop or context
// cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("scheduler started", "handlers", len(s.handlers))
}

// Stop halts the scheduler. A task already executing runs to completion.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Add schedules a task. Returns the task and true on admission; nil and
// false when the kind's queue is full or the handler's check rejects the
// context. Rejection is silent by design — no user ever sees it.
//
// A zero runAt means "as soon as possible".
func (s *Scheduler) Add(kind Kind, c Context, runAt time.Time) (*Task, bool) {
	handler, ok := s.handlers[kind]
	if !ok {
		panic(fmt.Sprintf("tasks: no handler registered for kind %q", kind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countLocked(kind) >= handler.MaxQueue() {
		s.logger.Debug("task rejected, queue full", "kind", kind)
		return nil, false
	}
	if !handler.Check(c) {
		s.logger.Debug("task rejected by check", "kind", kind)
		return nil, false
	}

	if runAt.IsZero() {
		runAt = time.Now()
	}

	task := &Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		RunAt:   runAt,
		Context: c,
	}
	s.queue[task.ID] = task
	s.armLocked()

	s.logger.Debug("task queued", "kind", kind, "id", task.ID, "run_at", runAt)
	return task, true
}

// Queued reports how many tasks of a kind are waiting.
func (s *Scheduler) Queued(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(kind)
}

func (s *Scheduler) countLocked(kind Kind) int {
	n := 0
	for _, t := range s.queue {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

// armLocked recomputes the next wake time and re-arms the single timer.
// Called after every insert, removal and completion. While a task is
// executing the timer stays disarmed; completion re-arms it. Caller must
// hold mu.
func (s *Scheduler) armLocked() {
	if s.current != nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	next := s.soonestLocked()
	if next == nil {
		return
	}

	wait := time.Until(next.RunAt)
	if wait < 0 {
		wait = 0
	}
	s.timer = time.AfterFunc(wait, s.fire)
}

// soonestLocked returns the earliest pending task. Caller must hold mu.
func (s *Scheduler) soonestLocked() *Task {
	pending := make([]*Task, 0, len(s.queue))
	for _, t := range s.queue {
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].RunAt.Before(pending[j].RunAt) })
	return pending[0]
}

// fire runs the soonest pending task. The task is removed from the queue
// before execution starts, so re-entrant Adds during execution can never
// duplicate it.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return
	}
	task := s.soonestLocked()
	if task == nil {
		s.mu.Unlock()
		return
	}
	// A callback already in flight when the queue changed cannot be
	// stopped by armLocked; it may wake us long before the soonest task
	// is due. Push the wake forward instead of running early.
	if time.Now().Before(task.RunAt) {
		s.armLocked()
		s.mu.Unlock()
		return
	}
	delete(s.queue, task.ID)
	s.current = task
	s.mu.Unlock()

	s.run(task)

	s.mu.Lock()
	s.current = nil
	s.armLocked()
	s.mu.Unlock()
}

// run executes one task inside the per-task error boundary. A failing or
// panicking handler is logged and the task discarded; the queue continues.
func (s *Scheduler) run(task *Task) {
	handler := s.handlers[task.Kind]

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task handler panicked", "kind", task.Kind, "id", task.ID, "panic", r)
		}
	}()

	s.logger.Debug("running task", "kind", task.Kind, "id", task.ID)
	start := time.Now()

	if err := handler.Run(ctx, task); err != nil {
		s.logger.Error("task failed", "kind", task.Kind, "id", task.ID, "error", err)
		return
	}

	s.logger.Debug("task done", "kind", task.Kind, "id", task.ID,
		"duration_ms", time.Since(start).Milliseconds())
}
