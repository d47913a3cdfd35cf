package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

const maxListedFiles = 500

// ListWorkspace walks root and returns slash-separated relative paths of
// regular files, skipping hidden directories. At most limit paths are
// returned; limit <= 0 means no limit.
func ListWorkspace(root string, limit int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		if limit > 0 && len(files) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// ListFiles lists the files under the agent's workspace directory.
type ListFiles struct{ root string }

func NewListFiles(root string) *ListFiles { return &ListFiles{root: root} }

func (l *ListFiles) Name() string { return "list_files" }
func (l *ListFiles) Kind() string { return "search" }
func (l *ListFiles) Description() string {
	return "List files in the workspace, optionally filtered by a glob pattern"
}
func (l *ListFiles) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Optional glob matched against the relative path, e.g. *.md"}
		}
	}`)
}

func (l *ListFiles) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Pattern string `json:"pattern"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
	}
	if params.Pattern != "" {
		if _, err := filepath.Match(params.Pattern, ""); err != nil {
			return "", fmt.Errorf("bad pattern: %w", err)
		}
	}

	files, err := ListWorkspace(l.root, 0)
	if err != nil {
		return "", err
	}
	var out []string
	for _, f := range files {
		if params.Pattern != "" {
			full, _ := filepath.Match(params.Pattern, f)
			base, _ := filepath.Match(params.Pattern, filepath.Base(f))
			if !full && !base {
				continue
			}
		}
		out = append(out, f)
		if len(out) == maxListedFiles {
			out = append(out, "[list truncated]")
			break
		}
	}
	if len(out) == 0 {
		return "No files found.", nil
	}
	return strings.Join(out, "\n"), nil
}
