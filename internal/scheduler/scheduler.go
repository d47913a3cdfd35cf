// Package scheduler fires stored tasks on their cron schedules by submitting
// the task prompt to its session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

// Submitter delivers a prompt to a session. *dispatch.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, id types.SessionID, text string, skipEvent bool) error
}

// Entry describes one registered task.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLatest resolves the target of tasks that name no session.
func WithLatest(fn func() types.SessionID) Option {
	return func(s *Scheduler) { s.latest = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler evaluates cron expressions from the task store.
type Scheduler struct {
	store  *state.TaskStore
	submit Submitter
	latest func() types.SessionID
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	entries map[string]registered
}

type registered struct {
	id       cron.EntryID
	schedule string
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ErrNoSession is returned when a task names no session and none exists.
var ErrNoSession = errors.New("no session to submit to")

func New(store *state.TaskStore, submit Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		submit: submit,
		latest: func() types.SessionID { return "" },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Start registers every enabled task that has a schedule and starts the
// cron ticker. Prompts are submitted with ctx; tasks with an invalid
// schedule are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.List()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	c := cron.New(cron.WithParser(cronParser))
	entries := make(map[string]registered)
	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}
		task := *task
		id, err := c.AddFunc(task.Schedule, func() {
			s.logger.Info("cron firing task", "name", task.Name, "session", task.SessionID)
			if err := s.run(ctx, &task); err != nil {
				s.logger.Error("scheduled task failed", "name", task.Name, "error", err)
			}
		})
		if err != nil {
			s.logger.Error("invalid cron schedule", "name", task.Name, "schedule", task.Schedule, "error", err)
			continue
		}
		entries[task.Name] = registered{id: id, schedule: task.Schedule}
		s.logger.Info("scheduled task", "name", task.Name, "schedule", task.Schedule)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.cron = c
	s.entries = entries
	s.mu.Unlock()

	c.Start()
	return nil
}

// Reload replaces the registered tasks with the store's current contents.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return errors.New("scheduler not started")
	}
	s.Stop()
	return s.Start(ctx)
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Entries lists the registered tasks with their next fire time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.entries))
	for name, r := range s.entries {
		e := s.cron.Entry(r.id)
		out = append(out, Entry{Name: name, Schedule: r.schedule, Next: e.Next})
	}
	return out
}

// Fire runs the named task immediately, regardless of its schedule.
func (s *Scheduler) Fire(ctx context.Context, name string) error {
	task, err := s.store.Get(name)
	if err != nil {
		return err
	}
	if !task.Enabled {
		return fmt.Errorf("task %q is disabled", name)
	}
	return s.run(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, task *state.Task) error {
	id := task.SessionID
	if id == "" {
		id = s.latest()
	}
	if id == "" {
		return ErrNoSession
	}
	if err := s.submit.Submit(ctx, id, task.Prompt, false); err != nil {
		return fmt.Errorf("submit %s to %s: %w", task.Name, id, err)
	}
	return nil
}
