package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Memory is a markdown bullet list of facts shared by every session. The
// context engine injects it into the system prompt.
type Memory struct {
	path string
	mu   sync.Mutex
}

func NewMemory(path string) *Memory { return &Memory{path: path} }

func (m *Memory) Path() string { return m.path }

// Facts returns the stored facts without their bullet prefix.
func (m *Memory) Facts() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

func (m *Memory) read() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	var facts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			facts = append(facts, line)
		}
	}
	return facts, nil
}

func (m *Memory) write(facts []string) error {
	var b strings.Builder
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteByte('\n')
	}
	if err := renameio.WriteFile(m.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// Add stores fact and reports false if it was already present.
func (m *Memory) Add(fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	m.mu.Lock()
	defer m.mu.Unlock()
	facts, err := m.read()
	if err != nil {
		return false, err
	}
	if slices.Contains(facts, fact) {
		return false, nil
	}
	return true, m.write(append(facts, fact))
}

// Remove deletes fact and reports false if it was not stored.
func (m *Memory) Remove(fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	m.mu.Lock()
	defer m.mu.Unlock()
	facts, err := m.read()
	if err != nil {
		return false, err
	}
	i := slices.Index(facts, fact)
	if i < 0 {
		return false, nil
	}
	return true, m.write(slices.Delete(facts, i, i+1))
}

func contentArg(args json.RawMessage) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if strings.TrimSpace(params.Content) == "" {
		return "", errors.New("content is required")
	}
	return params.Content, nil
}

func contentSchema(desc string) json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "` + desc + `"}
		},
		"required": ["content"]
	}`)
}

type MemorySave struct{ mem *Memory }

func NewMemorySave(mem *Memory) *MemorySave { return &MemorySave{mem: mem} }

func (t *MemorySave) Name() string { return "memory_save" }
func (t *MemorySave) Kind() string { return "edit" }
func (t *MemorySave) Description() string {
	return "Save a fact or preference to persistent memory shared by all sessions"
}
func (t *MemorySave) Parameters() json.RawMessage {
	return contentSchema("The fact or preference to remember")
}

func (t *MemorySave) Execute(_ context.Context, args json.RawMessage) (string, error) {
	content, err := contentArg(args)
	if err != nil {
		return "", err
	}
	added, err := t.mem.Add(content)
	if err != nil {
		return "", err
	}
	if !added {
		return "Memory already exists: " + content, nil
	}
	return "Saved: " + content, nil
}

type MemoryDelete struct{ mem *Memory }

func NewMemoryDelete(mem *Memory) *MemoryDelete { return &MemoryDelete{mem: mem} }

func (t *MemoryDelete) Name() string { return "memory_delete" }
func (t *MemoryDelete) Kind() string { return "delete" }
func (t *MemoryDelete) Description() string {
	return "Delete a fact or preference from persistent memory"
}
func (t *MemoryDelete) Parameters() json.RawMessage {
	return contentSchema("The fact to forget, exactly as stored")
}

func (t *MemoryDelete) Execute(_ context.Context, args json.RawMessage) (string, error) {
	content, err := contentArg(args)
	if err != nil {
		return "", err
	}
	removed, err := t.mem.Remove(content)
	if err != nil {
		return "", err
	}
	if !removed {
		return "Memory not found: " + content, nil
	}
	return "Deleted: " + content, nil
}

type MemoryList struct{ mem *Memory }

func NewMemoryList(mem *Memory) *MemoryList { return &MemoryList{mem: mem} }

func (t *MemoryList) Name() string { return "memory_list" }
func (t *MemoryList) Kind() string { return "read" }
func (t *MemoryList) Description() string {
	return "List all facts and preferences in persistent memory"
}
func (t *MemoryList) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *MemoryList) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	facts, err := t.mem.Facts()
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "No memories stored yet.", nil
	}
	return "- " + strings.Join(facts, "\n- "), nil
}
