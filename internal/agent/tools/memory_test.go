package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(filepath.Join(t.TempDir(), "memory.md"))
}

func contentArgs(s string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"content": s})
	return b
}

func TestMemoryToolNames(t *testing.T) {
	mem := newMemory(t)
	for want, tool := range map[string]interface{ Name() string }{
		"memory_save":   NewMemorySave(mem),
		"memory_delete": NewMemoryDelete(mem),
		"memory_list":   NewMemoryList(mem),
	} {
		if tool.Name() != want {
			t.Errorf("expected %q, got %q", want, tool.Name())
		}
	}
}

func TestMemorySaveAndList(t *testing.T) {
	mem := newMemory(t)
	save := NewMemorySave(mem)
	list := NewMemoryList(mem)

	result, err := save.Execute(context.Background(), contentArgs("User's name is Alex"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "Saved") {
		t.Errorf("expected confirmation, got %q", result)
	}

	listResult, err := list.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if listResult != "- User's name is Alex" {
		t.Errorf("unexpected list %q", listResult)
	}

	data, err := os.ReadFile(mem.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "- User's name is Alex\n" {
		t.Errorf("unexpected file contents %q", data)
	}
}

func TestMemorySaveDeduplicates(t *testing.T) {
	mem := newMemory(t)
	save := NewMemorySave(mem)

	if _, err := save.Execute(context.Background(), contentArgs("likes tea")); err != nil {
		t.Fatal(err)
	}
	result, err := save.Execute(context.Background(), contentArgs("  likes tea "))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "already exists") {
		t.Errorf("expected duplicate notice, got %q", result)
	}

	facts, err := mem.Facts()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"likes tea"}, facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryDelete(t *testing.T) {
	mem := newMemory(t)
	for _, f := range []string{"a", "b", "c"} {
		if _, err := mem.Add(f); err != nil {
			t.Fatal(err)
		}
	}

	result, err := NewMemoryDelete(mem).Execute(context.Background(), contentArgs("b"))
	if err != nil {
		t.Fatal(err)
	}
	if result != "Deleted: b" {
		t.Errorf("unexpected result %q", result)
	}

	facts, _ := mem.Facts()
	if diff := cmp.Diff([]string{"a", "c"}, facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryDeleteNotFound(t *testing.T) {
	mem := newMemory(t)
	result, err := NewMemoryDelete(mem).Execute(context.Background(), contentArgs("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "not found") {
		t.Errorf("expected not found, got %q", result)
	}
}

func TestMemoryListEmpty(t *testing.T) {
	result, err := NewMemoryList(newMemory(t)).Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != "No memories stored yet." {
		t.Errorf("unexpected result %q", result)
	}
}

func TestMemoryRequiresContent(t *testing.T) {
	mem := newMemory(t)
	if _, err := NewMemorySave(mem).Execute(context.Background(), contentArgs("  ")); err == nil {
		t.Error("expected error for blank content")
	}
	if _, err := NewMemoryDelete(mem).Execute(context.Background(), json.RawMessage(`{`)); err == nil {
		t.Error("expected error for malformed args")
	}
}

func TestMemoryParameters(t *testing.T) {
	mem := newMemory(t)
	for _, params := range []json.RawMessage{
		NewMemorySave(mem).Parameters(),
		NewMemoryDelete(mem).Parameters(),
		NewMemoryList(mem).Parameters(),
	} {
		var v map[string]any
		if err := json.Unmarshal(params, &v); err != nil {
			t.Errorf("invalid schema %s: %v", params, err)
		}
		if v["type"] != "object" {
			t.Errorf("expected object schema, got %v", v["type"])
		}
	}
}
