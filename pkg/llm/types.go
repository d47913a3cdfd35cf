package llm

import "encoding/json"

// Message represents a chat message in a conversation.
type Message struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Images  []Image    `json:"images,omitempty"`
	Tools   []ToolCall `json:"tool_calls,omitempty"`
}

// Image is an inline image sent alongside a user message.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MimeType + ";base64," + i.Data
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall contains the function name and arguments for a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsJSON returns the call arguments as a JSON object. OpenAI encodes
// them as a JSON string holding the object; both forms are accepted.
func (f FunctionCall) ArgumentsJSON() json.RawMessage {
	var s string
	if err := json.Unmarshal(f.Arguments, &s); err == nil {
		if s == "" {
			return json.RawMessage(`{}`)
		}
		return json.RawMessage(s)
	}
	if len(f.Arguments) == 0 {
		return json.RawMessage(`{}`)
	}
	return f.Arguments
}

// Tool describes a tool that can be provided to the model.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates u into a running total.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}
