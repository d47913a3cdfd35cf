package event

import (
	"encoding/json"
	"time"

	"github.com/user/agentloom/internal/types"
)

// Image is an inline image attached to a prompt.
type Image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type SessionCreated struct{}

type SessionDiscovered struct {
	Name      string    `json:"name"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type SessionLoaded struct{}

// SessionSwitched carries the server epoch so clients can resume later.
type SessionSwitched struct {
	Epoch types.Epoch `json:"epoch"`
}

type PromptSubmitted struct {
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

type AgentText struct {
	Text string `json:"text"`
}

type AgentThought struct {
	Text string `json:"text"`
}

type ToolCallStarted struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title"`
	Kind       string          `json:"kind,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
}

type ToolCallUpdated struct {
	ToolCallID string `json:"toolCallId"`
	Status     string `json:"status,omitempty"`
	Content    string `json:"content,omitempty"`
}

type ToolCallCompleted struct {
	ToolCallID string `json:"toolCallId"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
}

type TurnCompleted struct {
	StopReason string `json:"stopReason"`
}

// SessionInfoUpdated overwrites the session title when Title is non-empty.
type SessionInfoUpdated struct {
	Title string `json:"title,omitempty"`
}

type UsageUpdated struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

type ErrorOccurred struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

type NextBlockInitiated struct {
	Label       string `json:"label"`
	CommandText string `json:"commandText"`
	MetaContext string `json:"metaContext"`
}

// MetaContextEnsured only mutates the meta-context registry when Created is set.
type MetaContextEnsured struct {
	MetaContextID   types.MetaContextID `json:"metaContextId"`
	Name            string              `json:"name"`
	Created         bool                `json:"created"`
	OriginSessionID types.SessionID     `json:"originSessionId"`
	CommandText     string              `json:"commandText,omitempty"`
}

type SessionAddedToMetaContext struct {
	MetaContextID types.MetaContextID `json:"metaContextId"`
	Name          string              `json:"name,omitempty"`
}

// FileListUpdated is a global snapshot of the workspace file list.
type FileListUpdated struct {
	Files []string `json:"files"`
}

func (SessionCreated) EventType() Type            { return TypeSessionCreated }
func (SessionDiscovered) EventType() Type         { return TypeSessionDiscovered }
func (SessionLoaded) EventType() Type             { return TypeSessionLoaded }
func (SessionSwitched) EventType() Type           { return TypeSessionSwitched }
func (PromptSubmitted) EventType() Type           { return TypePromptSubmitted }
func (AgentText) EventType() Type                 { return TypeAgentText }
func (AgentThought) EventType() Type              { return TypeAgentThought }
func (ToolCallStarted) EventType() Type           { return TypeToolCallStarted }
func (ToolCallUpdated) EventType() Type           { return TypeToolCallUpdated }
func (ToolCallCompleted) EventType() Type         { return TypeToolCallCompleted }
func (TurnCompleted) EventType() Type             { return TypeTurnCompleted }
func (SessionInfoUpdated) EventType() Type        { return TypeSessionInfoUpdated }
func (UsageUpdated) EventType() Type              { return TypeUsageUpdated }
func (ErrorOccurred) EventType() Type             { return TypeErrorOccurred }
func (NextBlockInitiated) EventType() Type        { return TypeNextBlockInitiated }
func (MetaContextEnsured) EventType() Type        { return TypeMetaContextEnsured }
func (SessionAddedToMetaContext) EventType() Type { return TypeSessionAddedToMetaContext }
func (FileListUpdated) EventType() Type           { return TypeFileListUpdated }

func (SessionCreated) payload()            {}
func (SessionDiscovered) payload()         {}
func (SessionLoaded) payload()             {}
func (SessionSwitched) payload()           {}
func (PromptSubmitted) payload()           {}
func (AgentText) payload()                 {}
func (AgentThought) payload()              {}
func (ToolCallStarted) payload()           {}
func (ToolCallUpdated) payload()           {}
func (ToolCallCompleted) payload()         {}
func (TurnCompleted) payload()             {}
func (SessionInfoUpdated) payload()        {}
func (UsageUpdated) payload()              {}
func (ErrorOccurred) payload()             {}
func (NextBlockInitiated) payload()        {}
func (MetaContextEnsured) payload()        {}
func (SessionAddedToMetaContext) payload() {}
func (FileListUpdated) payload()           {}

func decodeAs[P Payload](raw []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var decoders = map[Type]func([]byte) (Payload, error){
	TypeSessionCreated:            decodeAs[SessionCreated],
	TypeSessionDiscovered:         decodeAs[SessionDiscovered],
	TypeSessionLoaded:             decodeAs[SessionLoaded],
	TypeSessionSwitched:           decodeAs[SessionSwitched],
	TypePromptSubmitted:           decodeAs[PromptSubmitted],
	TypeAgentText:                 decodeAs[AgentText],
	TypeAgentThought:              decodeAs[AgentThought],
	TypeToolCallStarted:           decodeAs[ToolCallStarted],
	TypeToolCallUpdated:           decodeAs[ToolCallUpdated],
	TypeToolCallCompleted:         decodeAs[ToolCallCompleted],
	TypeTurnCompleted:             decodeAs[TurnCompleted],
	TypeSessionInfoUpdated:        decodeAs[SessionInfoUpdated],
	TypeUsageUpdated:              decodeAs[UsageUpdated],
	TypeErrorOccurred:             decodeAs[ErrorOccurred],
	TypeNextBlockInitiated:        decodeAs[NextBlockInitiated],
	TypeMetaContextEnsured:        decodeAs[MetaContextEnsured],
	TypeSessionAddedToMetaContext: decodeAs[SessionAddedToMetaContext],
	TypeFileListUpdated:           decodeAs[FileListUpdated],
}
