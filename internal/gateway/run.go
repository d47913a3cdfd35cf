package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// Run is one agent turn for a session: a prompt plus the loop of model
// calls and tool calls that answers it.
type Run struct {
	ID        string
	SessionID types.SessionID
	Prompt    string
	Images    []event.Image
	// Ephemeral runs answer the prompt without recording it in the
	// session transcript.
	Ephemeral bool
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Err       error

	// Ctx is set by the queue when the run starts and is canceled by
	// Queue.Cancel.
	Ctx context.Context

	// OnComplete, if set, is called once the run leaves the queue, whatever
	// its final status.
	OnComplete func(*Run)

	cancel context.CancelFunc
	gen    uint64
}

func NewRun(sessionID types.SessionID, prompt string, images []event.Image) *Run {
	return &Run{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Prompt:    prompt,
		Images:    images,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Duration is zero until the run has ended.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

func (r *Run) finish(status RunStatus, err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Status = status
	r.Err = err
	if r.OnComplete != nil {
		r.OnComplete(r)
	}
}
