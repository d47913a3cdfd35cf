// internal/state/transcript.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/agentloom/internal/types"
)

// TranscriptStore is the agent bridge's JSONL transcript, one file per
// session at sessions/<sessionID>/transcript.jsonl. It is the bridge's own
// record of a conversation, separate from the in-memory event log.
type TranscriptStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewTranscriptStore creates a file-backed TranscriptStore rooted at the given directory.
func NewTranscriptStore(root string) *TranscriptStore {
	return &TranscriptStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (t *TranscriptStore) lockFor(id types.SessionID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lock, ok := t.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.locks[id] = lock
	return lock
}

func (t *TranscriptStore) path(id types.SessionID) string {
	return filepath.Join(t.root, "sessions", string(id), "transcript.jsonl")
}

// readAll loads every entry. Caller must hold the session lock.
func (t *TranscriptStore) readAll(id types.SessionID) ([]*types.TranscriptEntry, error) {
	f, err := os.Open(t.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []*types.TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry types.TranscriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal transcript entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return entries, nil
}

// Append adds an entry with the next per-session sequence number.
func (t *TranscriptStore) Append(_ context.Context, id types.SessionID, entry *types.TranscriptEntry) error {
	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path(id)), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	existing, err := t.readAll(id)
	if err != nil {
		return err
	}
	entry.Seq = int64(len(existing)) + 1

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	f, err := os.OpenFile(t.path(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return nil
}

// Tail returns the last limit entries. A limit <= 0 returns all of them.
func (t *TranscriptStore) Tail(_ context.Context, id types.SessionID, limit int) ([]*types.TranscriptEntry, error) {
	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	entries, err := t.readAll(id)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Count returns the number of transcript entries for the session.
func (t *TranscriptStore) Count(_ context.Context, id types.SessionID) (int64, error) {
	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	entries, err := t.readAll(id)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}
