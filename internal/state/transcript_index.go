// internal/state/transcript_index.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/user/agentloom/internal/types"
)

// TranscriptIndex is a JSON-file-backed index of the agent sessions the
// bridge knows about, stored in sessions/sessions.json.
type TranscriptIndex struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewTranscriptIndex creates a file-backed TranscriptIndex rooted at the given directory.
func NewTranscriptIndex(root string) *TranscriptIndex {
	return &TranscriptIndex{root: root, now: time.Now}
}

func (s *TranscriptIndex) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *TranscriptIndex) load() (map[types.SessionID]*types.TranscriptInfo, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID]*types.TranscriptInfo), nil
		}
		return nil, fmt.Errorf("read transcript index: %w", err)
	}

	var list []*types.TranscriptInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshal transcript index: %w", err)
	}

	index := make(map[types.SessionID]*types.TranscriptInfo, len(list))
	for _, info := range list {
		index[info.SessionID] = info
	}
	return index, nil
}

func (s *TranscriptIndex) save(index map[types.SessionID]*types.TranscriptInfo) error {
	list := make([]*types.TranscriptInfo, 0, len(index))
	for _, info := range index {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.indexPath()), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	if err := renameio.WriteFile(s.indexPath(), data, 0o644); err != nil {
		return fmt.Errorf("write transcript index: %w", err)
	}
	return nil
}

// Create mints a new session id and records it in the index.
func (s *TranscriptIndex) Create(_ context.Context, name string) (*types.TranscriptInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	now := s.now()
	info := &types.TranscriptInfo{
		SessionID: types.NewSessionID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	index[info.SessionID] = info
	if err := s.save(index); err != nil {
		return nil, err
	}
	return info, nil
}

// Get returns the index record for id.
func (s *TranscriptIndex) Get(_ context.Context, id types.SessionID) (*types.TranscriptInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	info, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("transcript not found: %s", id)
	}
	return info, nil
}

// List returns every record, oldest first.
func (s *TranscriptIndex) List(_ context.Context) ([]*types.TranscriptInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	list := make([]*types.TranscriptInfo, 0, len(index))
	for _, info := range index {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// Update persists changes to an existing record, setting UpdatedAt to now.
func (s *TranscriptIndex) Update(_ context.Context, info *types.TranscriptInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := index[info.SessionID]; !ok {
		return fmt.Errorf("transcript not found: %s", info.SessionID)
	}
	info.UpdatedAt = s.now()
	index[info.SessionID] = info
	return s.save(index)
}
