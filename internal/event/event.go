// Package event defines the domain events recorded in the event log.
//
// Every event carries a process-wide sequence number assigned once at append
// time. The sequence is the single ordering key and the cursor clients use to
// resume a stream.
package event

import (
	"time"

	"github.com/user/agentloom/internal/types"
)

// Type names an event variant. The string is also the wire "type" field.
type Type string

const (
	TypeSessionCreated            Type = "SessionCreated"
	TypeSessionDiscovered         Type = "SessionDiscovered"
	TypeSessionLoaded             Type = "SessionLoaded"
	TypeSessionSwitched           Type = "SessionSwitched"
	TypePromptSubmitted           Type = "PromptSubmitted"
	TypeAgentText                 Type = "AgentText"
	TypeAgentThought              Type = "AgentThought"
	TypeToolCallStarted           Type = "ToolCallStarted"
	TypeToolCallUpdated           Type = "ToolCallUpdated"
	TypeToolCallCompleted         Type = "ToolCallCompleted"
	TypeTurnCompleted             Type = "TurnCompleted"
	TypeSessionInfoUpdated        Type = "SessionInfoUpdated"
	TypeUsageUpdated              Type = "UsageUpdated"
	TypeErrorOccurred             Type = "ErrorOccurred"
	TypeNextBlockInitiated        Type = "NextBlockInitiated"
	TypeMetaContextEnsured        Type = "MetaContextEnsured"
	TypeSessionAddedToMetaContext Type = "SessionAddedToMetaContext"
	TypeFileListUpdated           Type = "FileListUpdated"
)

// Payload is implemented only by the variant structs in this package.
type Payload interface {
	EventType() Type
	payload()
}

// Event is an immutable fact. SessionID is empty for global events.
type Event struct {
	Type      Type
	Seq       int64
	Timestamp time.Time
	SessionID types.SessionID
	Payload   Payload
}

// Global reports whether the event belongs to no session.
func (e Event) Global() bool {
	return e.SessionID == ""
}
