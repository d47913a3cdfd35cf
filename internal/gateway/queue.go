package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/agentloom/internal/types"
)

// ErrQueueFull is returned by Enqueue when a session lane is at capacity.
var ErrQueueFull = errors.New("queue full")

const laneCapacity = 100

type lane struct {
	runs chan *Run

	mu      sync.Mutex
	current *Run
	gen     uint64 // bumped by Cancel; runs enqueued under an older gen are skipped
}

// Queue manages per-session lanes with a global concurrency semaphore.
// Runs within a session are processed sequentially in FIFO order, while
// the semaphore limits the number of runs executing across all sessions.
type Queue struct {
	lanes     map[types.SessionID]*lane
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

func NewQueue(maxConcurrent int64, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		lanes:     make(map[types.SessionID]*lane),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		logger:    logger,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels every run, closes all lanes and waits for the lane
// goroutines to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for id, l := range q.lanes {
		close(l.runs)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds run to its session's lane, starting the lane goroutine on
// first use.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return errors.New("queue not running")
	}

	l, exists := q.lanes[run.SessionID]
	if !exists {
		l = &lane{runs: make(chan *Run, laneCapacity)}
		q.lanes[run.SessionID] = l
		q.wg.Add(1)
		go q.processLane(run.SessionID, l)
	}

	l.mu.Lock()
	run.gen = l.gen
	l.mu.Unlock()

	select {
	case l.runs <- run:
		return nil
	default:
		return fmt.Errorf("%w for session %s", ErrQueueFull, run.SessionID)
	}
}

// Cancel aborts the running run of a session and discards the runs queued
// behind it. It reports whether anything was canceled.
func (q *Queue) Cancel(sessionID types.SessionID) bool {
	q.mu.RLock()
	l, ok := q.lanes[sessionID]
	q.mu.RUnlock()
	if !ok {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	canceled := len(l.runs) > 0
	if l.current != nil {
		l.current.cancel()
		canceled = true
	}
	return canceled
}

// Busy reports whether the session has a run executing or queued.
func (q *Queue) Busy(sessionID types.SessionID) bool {
	q.mu.RLock()
	l, ok := q.lanes[sessionID]
	q.mu.RUnlock()
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil || len(l.runs) > 0
}

func (q *Queue) processLane(sessionID types.SessionID, l *lane) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-l.runs:
			if !ok {
				return
			}
			q.process(l, run)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(l *lane, run *Run) {
	l.mu.Lock()
	if run.gen != l.gen {
		l.mu.Unlock()
		run.finish(RunStatusCanceled, context.Canceled)
		return
	}
	run.Ctx, run.cancel = context.WithCancel(q.ctx)
	l.current = run
	l.mu.Unlock()

	defer func() {
		run.cancel()
		l.mu.Lock()
		l.current = nil
		l.mu.Unlock()
	}()

	if err := q.semaphore.Acquire(run.Ctx, 1); err != nil {
		run.finish(RunStatusCanceled, err)
		return
	}
	defer q.semaphore.Release(1)

	if q.processor == nil {
		run.finish(RunStatusComplete, nil)
		return
	}

	q.active.Add(1)
	defer q.active.Add(-1)

	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning
	run.Attempts++

	err := q.processor(run)
	switch {
	case err == nil:
		run.finish(RunStatusComplete, nil)
	case run.Ctx.Err() != nil:
		q.logger.Info("run canceled", "run_id", run.ID, "session_id", string(run.SessionID))
		run.finish(RunStatusCanceled, err)
	default:
		q.logger.Error("run failed", "run_id", run.ID, "session_id", string(run.SessionID), "error", err)
		run.finish(RunStatusFailed, err)
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run. It must be
// called before Start.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
