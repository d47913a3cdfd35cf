// Package delivery remembers which session each chat front-end conversation
// is bound to, so replies keep going to the same chat across restarts.
package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/user/agentloom/internal/types"
)

// Registry maps chat keys such as "telegram:42:100" to session ids. With a
// non-empty path every change is written through to a JSON file.
type Registry struct {
	path string

	mu       sync.RWMutex
	bindings map[string]types.SessionID
}

// NewRegistry creates an in-memory registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]types.SessionID)}
}

// Open loads the registry stored at path. A missing file yields an empty
// registry.
func Open(path string) (*Registry, error) {
	r := NewRegistry()
	r.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	if err := json.Unmarshal(data, &r.bindings); err != nil {
		return nil, fmt.Errorf("parse bindings %s: %w", path, err)
	}
	if r.bindings == nil {
		r.bindings = make(map[string]types.SessionID)
	}
	return r, nil
}

// Lookup returns the session bound to key.
func (r *Registry) Lookup(key string) (types.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bindings[key]
	return id, ok
}

// Bind points key at id, replacing any previous binding.
func (r *Registry) Bind(key string, id types.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[key] == id {
		return nil
	}
	r.bindings[key] = id
	return r.save()
}

func (r *Registry) Unbind(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[key]; !ok {
		return nil
	}
	delete(r.bindings, key)
	return r.save()
}

// Keys returns the chat keys bound to id with the given prefix, sorted.
// An empty prefix matches every front-end.
func (r *Registry) Keys(id types.SessionID, prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for key, sid := range r.bindings {
		if sid == id && strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

// save writes the bindings atomically. Called with mu held.
func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.bindings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(r.path, data, 0o600)
}
