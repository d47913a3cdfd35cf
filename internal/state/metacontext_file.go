// internal/state/metacontext_file.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/user/agentloom/internal/types"
)

// metaContextFile is the on-disk format of the meta-context registry.
type metaContextFile struct {
	MetaContexts []types.MetaContext `json:"metaContexts"`
}

// MetaContextFile persists the meta-context registry as one JSON document.
// Every save overwrites the whole file; there is no partial update.
type MetaContextFile struct {
	path string
}

// NewMetaContextFile creates a MetaContextFile at the given path.
func NewMetaContextFile(path string) *MetaContextFile {
	return &MetaContextFile{path: path}
}

// Path returns the file path used by this store.
func (f *MetaContextFile) Path() string {
	return f.path
}

// Load reads the persisted meta-contexts. A missing file yields an empty list.
func (f *MetaContextFile) Load() ([]types.MetaContext, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read meta-context file: %w", err)
	}

	var doc metaContextFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal meta-context file: %w", err)
	}
	return doc.MetaContexts, nil
}

// Save overwrites the file with list.
func (f *MetaContextFile) Save(list []types.MetaContext) error {
	if list == nil {
		list = []types.MetaContext{}
	}
	data, err := json.MarshalIndent(metaContextFile{MetaContexts: list}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta-context file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create meta-context dir: %w", err)
	}
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write meta-context file: %w", err)
	}
	return nil
}
