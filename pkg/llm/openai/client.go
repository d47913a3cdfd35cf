// Package openai talks to OpenAI-compatible chat completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/agentloom/pkg/llm"
)

const (
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 4096
	userAgent      = "agentloom"
)

// Client implements llm.Provider.
type Client struct {
	config   *llm.Config
	http     *http.Client
	endpoint string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after two
// minutes.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(config *llm.Config, opts ...Option) *Client {
	c := &Client{
		config:   config,
		http:     &http.Client{Timeout: defaultTimeout},
		endpoint: strings.TrimSuffix(config.BaseURL, "/") + "/chat/completions",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []wireMsg  `json:"messages"`
	Tools       []llm.Tool `json:"tools,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature *float32   `json:"temperature,omitempty"`
}

// wireMsg.Content is a plain string, or a list of parts when the message
// carries images.
type wireMsg struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func encodeMessage(msg llm.Message) wireMsg {
	w := wireMsg{Role: msg.Role, Content: msg.Content}
	if len(msg.Tools) > 0 {
		if msg.Role == "tool" {
			w.ToolCallID = msg.Tools[0].ID
		} else {
			w.ToolCalls = msg.Tools
		}
	}
	if len(msg.Images) == 0 {
		return w
	}
	var parts []part
	if msg.Content != "" {
		parts = append(parts, part{Type: "text", Text: msg.Content})
	}
	for _, img := range msg.Images {
		p := part{Type: "image_url"}
		p.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: img.DataURL()}
		parts = append(parts, p)
	}
	w.Content = parts
	return w
}

// Complete sends one chat completion request. Non-200 answers come back as
// *llm.APIError carrying the server's Retry-After, if any.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	body := chatRequest{
		Model:     c.config.Model,
		Messages:  make([]wireMsg, 0, len(messages)),
		Tools:     tools,
		MaxTokens: c.config.MaxTokens,
	}
	for _, msg := range messages {
		body.Messages = append(body.Messages, encodeMessage(msg))
	}
	if t := c.config.Temperature; t != 0 {
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.APIError{
			StatusCode: resp.StatusCode,
			Body:       string(msg),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	first := out.Choices[0]
	return &llm.Response{
		Content:      first.Message.Content,
		ToolCalls:    first.Message.ToolCalls,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Anything else is zero.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}
