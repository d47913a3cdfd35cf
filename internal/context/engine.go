// internal/context/engine.go
package context

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/agentloom/internal/types"
	"github.com/user/agentloom/pkg/llm"
)

// PromptData is the data available to the system prompt template.
type PromptData struct {
	Time      string
	SessionID string
	Title     string
	Tools     string
	ToolList  bool
	Memory    string
}

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	count     func(string) int
	maxTokens int
	reserve   int
	prompt    *template.Template
	memory    func() ([]string, error)
	now       func() time.Time
}

type Option func(*Engine)

// WithTokenCounter replaces the tiktoken counter.
func WithTokenCounter(fn func(string) int) Option {
	return func(e *Engine) { e.count = fn }
}

// WithMemory sets the source of remembered facts injected into the system
// prompt.
func WithMemory(fn func() ([]string, error)) Option {
	return func(e *Engine) { e.memory = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a context engine for a model with a context window of
// maxTokens, keeping reserve tokens free for the answer. When no tokenizer
// is available for the model it estimates four bytes per token.
func New(model string, maxTokens, reserve int, opts ...Option) *Engine {
	e := &Engine{
		maxTokens: maxTokens,
		reserve:   reserve,
		prompt:    template.Must(template.New("system").Parse(DefaultPrompt)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.count == nil {
		e.count = tokenCounter(model)
	}
	return e
}

func tokenCounter(model string) func(string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		slog.Warn("tokenizer unavailable, estimating token counts", "model", model, "error", err)
		return func(s string) int { return (len(s) + 3) / 4 }
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

// SetPrompt replaces the system prompt template.
func (e *Engine) SetPrompt(text string) error {
	t, err := template.New("system").Parse(text)
	if err != nil {
		return fmt.Errorf("parse prompt template: %w", err)
	}
	e.prompt = t
	return nil
}

func (e *Engine) messageTokens(m llm.Message) int {
	n := e.count(m.Content) + 4
	for _, tc := range m.Tools {
		n += e.count(tc.Function.Name) + e.count(string(tc.Function.Arguments))
	}
	return n
}

// BuildPrompt assembles the messages for one model call: the system prompt,
// as much of history as fits the budget (newest first), then every message
// of the current turn. Tool results whose call fell out of the budget are
// dropped.
func (e *Engine) BuildPrompt(info *types.TranscriptInfo, history []*types.TranscriptEntry, turn []llm.Message, toolNames []string) ([]llm.Message, error) {
	sys, err := e.systemPrompt(info, toolNames)
	if err != nil {
		return nil, err
	}

	remaining := e.maxTokens - e.reserve - e.count(sys)
	for _, m := range turn {
		remaining -= e.messageTokens(m)
	}

	var kept []llm.Message
	for i := len(history) - 1; i >= 0 && remaining > 0; i-- {
		msg, ok := EntryToMessage(history[i])
		if !ok {
			continue
		}
		cost := e.messageTokens(msg)
		if cost > remaining {
			break
		}
		remaining -= cost
		kept = append(kept, msg)
	}
	for len(kept) > 0 && kept[len(kept)-1].Role == "tool" {
		kept = kept[:len(kept)-1]
	}

	messages := make([]llm.Message, 0, 1+len(kept)+len(turn))
	messages = append(messages, llm.Message{Role: "system", Content: sys})
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	return append(messages, turn...), nil
}

func (e *Engine) systemPrompt(info *types.TranscriptInfo, toolNames []string) (string, error) {
	data := PromptData{
		Time:     e.now().Format(time.RFC3339),
		Tools:    strings.Join(toolNames, ", "),
		ToolList: len(toolNames) > 0,
	}
	if info != nil {
		data.SessionID = string(info.SessionID)
		data.Title = info.Title
	}
	if e.memory != nil {
		facts, err := e.memory()
		if err != nil {
			slog.Warn("memory unavailable for prompt", "error", err)
		} else if len(facts) > 0 {
			data.Memory = "- " + strings.Join(facts, "\n- ")
		}
	}

	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// EntryToMessage converts a transcript entry to a chat message. Error
// entries have no chat form.
func EntryToMessage(entry *types.TranscriptEntry) (llm.Message, bool) {
	switch entry.Role {
	case types.RoleUser:
		return llm.Message{Role: "user", Content: entry.Text}, true
	case types.RoleAssistant:
		return llm.Message{Role: "assistant", Content: entry.Text}, true
	case types.RoleToolCall:
		args := entry.Arguments
		if args == "" {
			args = `"{}"`
		}
		return llm.Message{
			Role: "assistant",
			Tools: []llm.ToolCall{{
				ID:   entry.CallID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      entry.Tool,
					Arguments: []byte(args),
				},
			}},
		}, true
	case types.RoleToolResult:
		return llm.Message{
			Role:    "tool",
			Content: entry.Text,
			Tools:   []llm.ToolCall{{ID: entry.CallID}},
		}, true
	default:
		return llm.Message{}, false
	}
}
