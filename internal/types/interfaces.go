// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

// TranscriptEntry is one line of an agent session's own transcript. The
// agent bridge keeps these; the event log is rebuilt from them on load.
type TranscriptEntry struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	At        time.Time `json:"at"`
}

// Transcript entry roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
	RoleError      = "error"
)

// TranscriptInfo is the index record for one agent session.
type TranscriptInfo struct {
	SessionID SessionID `json:"session_id"`
	Name      string    `json:"name"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TranscriptIndex interface {
	Create(ctx context.Context, name string) (*TranscriptInfo, error)
	Get(ctx context.Context, id SessionID) (*TranscriptInfo, error)
	List(ctx context.Context) ([]*TranscriptInfo, error)
	Update(ctx context.Context, info *TranscriptInfo) error
}

type TranscriptStore interface {
	Append(ctx context.Context, id SessionID, entry *TranscriptEntry) error
	Tail(ctx context.Context, id SessionID, limit int) ([]*TranscriptEntry, error)
	Count(ctx context.Context, id SessionID) (int64, error)
}
