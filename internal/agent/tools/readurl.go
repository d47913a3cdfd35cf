package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	maxReadURLChars = 50000
	maxReadURLBytes = 5 << 20
)

// ReadURL fetches a URL and converts its HTML content to markdown. Plain
// text responses are returned as they are.
type ReadURL struct {
	client *http.Client
}

func NewReadURL() *ReadURL {
	return &ReadURL{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *ReadURL) Name() string        { return "read_url" }
func (r *ReadURL) Kind() string        { return "fetch" }
func (r *ReadURL) Description() string { return "Fetch a URL and return its content as markdown" }
func (r *ReadURL) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The http or https URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (r *ReadURL) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.URL == "" {
		return "", errors.New("url is required")
	}
	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return "", fmt.Errorf("unsupported url %q", params.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "agentloom/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadURLBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if ct := resp.Header.Get("Content-Type"); ct == "" || strings.Contains(ct, "html") {
		text, err = htmltomarkdown.ConvertString(text)
		if err != nil {
			return "", fmt.Errorf("convert to markdown: %w", err)
		}
	}

	if len(text) > maxReadURLChars {
		text = text[:maxReadURLChars] + "\n\n[Content truncated]"
	}
	return text, nil
}
