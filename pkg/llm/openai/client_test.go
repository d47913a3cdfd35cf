package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/user/agentloom/pkg/llm"
)

var _ llm.Provider = (*Client)(nil)

// capture records the decoded request body and answers with resp.
func capture(t *testing.T, status int, header http.Header, resp string) (*httptest.Server, *map[string]any, *http.Header) {
	t.Helper()
	var body map[string]any
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		got = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		for k, v := range header {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &body, &got
}

const okResponse = `{"choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],` +
	`"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

func TestCompleteRequestAndResponse(t *testing.T) {
	srv, body, header := capture(t, http.StatusOK, nil, okResponse)
	client := New(&llm.Config{BaseURL: srv.URL + "/v1/", APIKey: "test-key", Model: "gpt-4o", MaxTokens: 256, Temperature: 0.5})

	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := &llm.Response{
		Content:      "hi there",
		FinishReason: "stop",
		Usage:        llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}

	if got := header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("Authorization = %q", got)
	}
	if got := header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	wantBody := map[string]any{
		"model":       "gpt-4o",
		"max_tokens":  float64(256),
		"temperature": 0.5,
		"messages": []any{
			map[string]any{"role": "system", "content": "be brief"},
			map[string]any{"role": "user", "content": "hello"},
		},
	}
	if diff := cmp.Diff(wantBody, *body); diff != "" {
		t.Errorf("request body (-want +got):\n%s", diff)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	srv, body, _ := capture(t, http.StatusOK, nil, `{"choices":[{"message":{"role":"assistant","content":"",`+
		`"tool_calls":[{"id":"call_1","type":"function","function":{"name":"read_url","arguments":"{\"url\":\"http://x\"}"}}]},`+
		`"finish_reason":"tool_calls"}]}`)
	client := New(&llm.Config{BaseURL: srv.URL + "/v1", Model: "gpt-4o"})

	tools := []llm.Tool{{Type: "function", Function: llm.Function{
		Name: "read_url", Description: "Fetch a page", Parameters: json.RawMessage(`{"type":"object"}`),
	}}}
	history := []llm.Message{
		{Role: "user", Content: "read it"},
		{Role: "assistant", Tools: []llm.ToolCall{{ID: "call_0", Type: "function", Function: llm.FunctionCall{Name: "read_url", Arguments: json.RawMessage(`"{}"`)}}}},
		{Role: "tool", Content: "page text", Tools: []llm.ToolCall{{ID: "call_0"}}},
	}
	resp, err := client.Complete(context.Background(), history, tools)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "read_url" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if got := string(resp.ToolCalls[0].Function.ArgumentsJSON()); got != `{"url":"http://x"}` {
		t.Errorf("arguments = %s", got)
	}

	msgs := (*body)["messages"].([]any)
	if _, ok := msgs[1].(map[string]any)["tool_calls"]; !ok {
		t.Error("assistant message lost its tool calls")
	}
	if id := msgs[2].(map[string]any)["tool_call_id"]; id != "call_0" {
		t.Errorf("tool message tool_call_id = %v", id)
	}
	if n := len((*body)["tools"].([]any)); n != 1 {
		t.Errorf("expected 1 tool in request, got %d", n)
	}
}

func TestCompleteImages(t *testing.T) {
	srv, body, _ := capture(t, http.StatusOK, nil, okResponse)
	client := New(&llm.Config{BaseURL: srv.URL + "/v1", Model: "gpt-4o"})

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "what is this?", Images: []llm.Image{{MimeType: "image/png", Data: "QUJD"}}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := (*body)["messages"].([]any)[0].(map[string]any)
	want := []any{
		map[string]any{"type": "text", "text": "what is this?"},
		map[string]any{"type": "image_url", "image_url": map[string]any{"url": "data:image/png;base64,QUJD"}},
	}
	if diff := cmp.Diff(want, msg["content"]); diff != "" {
		t.Errorf("content parts (-want +got):\n%s", diff)
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     http.Header
		body       string
		retryable  bool
		retryAfter time.Duration
	}{
		{"unauthorized", http.StatusUnauthorized, nil, `{"error":{"message":"invalid api key"}}`, false, 0},
		{"bad gateway", http.StatusBadGateway, nil, "", true, 0},
		{"rate limited", http.StatusTooManyRequests, http.Header{"Retry-After": {"7"}}, "slow down", true, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := capture(t, tt.status, tt.header, tt.body)
			_, err := New(&llm.Config{BaseURL: srv.URL + "/v1", Model: "m"}).Complete(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)

			var apiErr *llm.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *llm.APIError, got %T %v", err, err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Body != tt.body || apiErr.RetryAfter != tt.retryAfter {
				t.Errorf("unexpected error %+v", apiErr)
			}
			if got := llm.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv, _, _ := capture(t, http.StatusOK, nil, `{"choices":[]}`)
	if _, err := New(&llm.Config{BaseURL: srv.URL + "/v1"}).Complete(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestRetryAfter(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := retryAfter(future); got < 59*time.Minute || got > time.Hour {
		t.Errorf("retryAfter(date) = %v", got)
	}
	for _, v := range []string{"", "soon", "-3", "0"} {
		if got := retryAfter(v); got != 0 {
			t.Errorf("retryAfter(%q) = %v, want 0", v, got)
		}
	}
}
