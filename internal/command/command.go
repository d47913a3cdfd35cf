// Package command defines the intents accepted by the dispatcher. A command
// is distinct from the event it causes: one command may produce no event, an
// event, or an ErrorOccurred event.
package command

import (
	"encoding/json"
	"time"

	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/types"
)

// Command is implemented only by the structs in this package.
type Command interface {
	CommandName() string
	command()
}

type CreateSession struct{}

// SwitchSession targets the session passed to Dispatch.
type SwitchSession struct{}

type LoadSession struct{}

type SubmitPrompt struct {
	Text   string
	Images []event.Image
	// SkipEvent submits the prompt without recording PromptSubmitted. The
	// bridge keeps such prompts out of the replayable transcript.
	SkipEvent bool
}

type Cancel struct{}

type DiscoverSession struct {
	Name      string
	Title     string
	CreatedAt time.Time
}

type EnsureMetaContext struct {
	Name        string
	CommandText string
}

type AddSessionToMetaContext struct {
	MetaContextID types.MetaContextID
}

type NextBlockClick struct {
	Label       string
	CommandText string
	MetaContext string
}

type RecordAgentText struct{ Text string }

type RecordAgentThought struct{ Text string }

type RecordToolCallStarted struct {
	ToolCallID string
	Title      string
	Kind       string
	Input      json.RawMessage
}

type RecordToolCallUpdated struct {
	ToolCallID string
	Status     string
	Content    string
}

type RecordToolCallCompleted struct {
	ToolCallID string
	Status     string
	Output     string
}

type RecordUsageUpdated struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type RecordSessionInfoUpdated struct{ Title string }

type CompleteTurn struct{ StopReason string }

type RecordError struct{ Message string }

type UpdateFileList struct{ Files []string }

func (CreateSession) CommandName() string            { return "CreateSession" }
func (SwitchSession) CommandName() string            { return "SwitchSession" }
func (LoadSession) CommandName() string              { return "LoadSession" }
func (SubmitPrompt) CommandName() string             { return "SubmitPrompt" }
func (Cancel) CommandName() string                   { return "Cancel" }
func (DiscoverSession) CommandName() string          { return "DiscoverSession" }
func (EnsureMetaContext) CommandName() string        { return "EnsureMetaContext" }
func (AddSessionToMetaContext) CommandName() string  { return "AddSessionToMetaContext" }
func (NextBlockClick) CommandName() string           { return "NextBlockClick" }
func (RecordAgentText) CommandName() string          { return "RecordAgentText" }
func (RecordAgentThought) CommandName() string       { return "RecordAgentThought" }
func (RecordToolCallStarted) CommandName() string    { return "RecordToolCallStarted" }
func (RecordToolCallUpdated) CommandName() string    { return "RecordToolCallUpdated" }
func (RecordToolCallCompleted) CommandName() string  { return "RecordToolCallCompleted" }
func (RecordUsageUpdated) CommandName() string       { return "RecordUsageUpdated" }
func (RecordSessionInfoUpdated) CommandName() string { return "RecordSessionInfoUpdated" }
func (CompleteTurn) CommandName() string             { return "CompleteTurn" }
func (RecordError) CommandName() string              { return "RecordError" }
func (UpdateFileList) CommandName() string           { return "UpdateFileList" }

func (CreateSession) command()            {}
func (SwitchSession) command()            {}
func (LoadSession) command()              {}
func (SubmitPrompt) command()             {}
func (Cancel) command()                   {}
func (DiscoverSession) command()          {}
func (EnsureMetaContext) command()        {}
func (AddSessionToMetaContext) command()  {}
func (NextBlockClick) command()           {}
func (RecordAgentText) command()          {}
func (RecordAgentThought) command()       {}
func (RecordToolCallStarted) command()    {}
func (RecordToolCallUpdated) command()    {}
func (RecordToolCallCompleted) command()  {}
func (RecordUsageUpdated) command()       {}
func (RecordSessionInfoUpdated) command() {}
func (CompleteTurn) command()             {}
func (RecordError) command()              {}
func (UpdateFileList) command()           {}
