package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/user/agentloom/internal/types"
)

// ErrTaskNotFound is returned when no task has the requested name.
var ErrTaskNotFound = errors.New("task not found")

// Task is a named prompt submitted into a session, either on a cron
// schedule or when its webhook is called. An empty SessionID means the
// latest session at the time the task runs.
type Task struct {
	Name      string          `json:"name"`
	Prompt    string          `json:"prompt"`
	Schedule  string          `json:"schedule,omitempty"`
	SessionID types.SessionID `json:"session_id,omitempty"`
	Enabled   bool            `json:"enabled"`
}

// TaskStore keeps tasks in one JSON file that is replaced on every write.
type TaskStore struct {
	path string
	mu   sync.RWMutex
}

func NewTaskStore(path string) *TaskStore {
	return &TaskStore{path: path}
}

func (s *TaskStore) Path() string {
	return s.path
}

// List returns every task in file order. A missing file is an empty list.
func (s *TaskStore) List() ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks, err := s.load()
	if tasks == nil && err == nil {
		tasks = []*Task{}
	}
	return tasks, err
}

func (s *TaskStore) Get(name string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(tasks, name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return tasks[i], nil
}

// Add stores a new task. Names are unique; name and prompt are required.
func (s *TaskStore) Add(task *Task) error {
	if task.Name == "" || task.Prompt == "" {
		return errors.New("task name and prompt are required")
	}
	return s.update(func(tasks []*Task) ([]*Task, error) {
		if indexOf(tasks, task.Name) >= 0 {
			return nil, fmt.Errorf("task already exists: %s", task.Name)
		}
		return append(tasks, task), nil
	})
}

func (s *TaskStore) Remove(name string) error {
	return s.update(func(tasks []*Task) ([]*Task, error) {
		i := indexOf(tasks, name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
		}
		return slices.Delete(tasks, i, i+1), nil
	})
}

func (s *TaskStore) SetEnabled(name string, enabled bool) error {
	return s.update(func(tasks []*Task) ([]*Task, error) {
		i := indexOf(tasks, name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
		}
		tasks[i].Enabled = enabled
		return tasks, nil
	})
}

func indexOf(tasks []*Task, name string) int {
	return slices.IndexFunc(tasks, func(t *Task) bool { return t.Name == name })
}

// update applies fn to the stored tasks under the write lock and persists
// the result. Nothing is written when fn fails.
func (s *TaskStore) update(fn func([]*Task) ([]*Task, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load()
	if err != nil {
		return err
	}
	if tasks, err = fn(tasks); err != nil {
		return err
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create tasks dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write tasks file: %w", err)
	}
	return nil
}

func (s *TaskStore) load() ([]*Task, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	var tasks []*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}
	return tasks, nil
}
