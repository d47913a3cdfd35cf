package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListWorkspace(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "b.md", "a.txt", "docs/c.md", ".git/config", "docs/.hidden/x")

	files, err := ListWorkspace(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.txt", "b.md", "docs/c.md"}, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	limited, err := ListWorkspace(root, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 files with limit, got %v", limited)
	}
}

func TestListWorkspaceMissingRoot(t *testing.T) {
	if _, err := ListWorkspace(filepath.Join(t.TempDir(), "missing"), 0); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestListFilesPattern(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.md", "docs/c.md")
	tool := NewListFiles(root)

	args, _ := json.Marshal(map[string]string{"pattern": "*.md"})
	got, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if got != "b.md\ndocs/c.md" {
		t.Errorf("unexpected listing %q", got)
	}

	args, _ = json.Marshal(map[string]string{"pattern": "*.go"})
	got, err = tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if got != "No files found." {
		t.Errorf("unexpected listing %q", got)
	}

	args, _ = json.Marshal(map[string]string{"pattern": "["})
	if _, err := tool.Execute(context.Background(), args); err == nil {
		t.Error("expected bad pattern error")
	}
}
