// internal/state/schedule.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ScheduledTask is one cron-scheduled prompt. The cron expression is
// validated by the scheduler before insertion.
type ScheduledTask struct {
	ID         string     `json:"id"`
	Cron       string     `json:"cron"`
	Message    string     `json:"message"`
	SkillID    string     `json:"skill_id,omitempty"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
}

// ScheduleStore is a JSON-file-backed store for scheduled tasks.
type ScheduleStore struct {
	path string
	mu   sync.RWMutex
}

// NewScheduleStore creates a file-backed ScheduleStore at the given path.
func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{path: path}
}

// Path returns the file path used by this store.
func (s *ScheduleStore) Path() string {
	return s.path
}

// List returns all tasks. Returns an empty slice if the file doesn't exist.
func (s *ScheduleStore) List() ([]*ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		return []*ScheduledTask{}, nil
	}
	return tasks, nil
}

// Get finds a task by id. Returns an error if not found.
func (s *ScheduleStore) Get(id string) (*ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if task.ID == id {
			return task, nil
		}
	}
	return nil, fmt.Errorf("task not found: %s", id)
}

// Add appends a task.
func (s *ScheduleStore) Add(task *ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	tasks = append(tasks, task)
	return s.save(tasks)
}

// Remove deletes a task by id. Returns an error if not found.
func (s *ScheduleStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for i, task := range tasks {
		if task.ID == id {
			tasks = append(tasks[:i], tasks[i+1:]...)
			return s.save(tasks)
		}
	}
	return fmt.Errorf("task not found: %s", id)
}

// SetEnabled toggles the enabled flag for a task. Returns an error if not found.
func (s *ScheduleStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ID == id {
			task.Enabled = enabled
			return s.save(tasks)
		}
	}
	return fmt.Errorf("task not found: %s", id)
}

// MarkRun updates last_run for a task and persists. Unknown ids are ignored
// (the task may have been removed mid-flight).
func (s *ScheduleStore) MarkRun(id string, ranAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ID == id {
			at := ranAt
			task.LastRun = &at
			return s.save(tasks)
		}
	}
	return nil
}

// RecordResult updates last_result for a task and persists. Unknown ids are
// ignored.
func (s *ScheduleStore) RecordResult(id string, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ID == id {
			task.LastResult = result
			return s.save(tasks)
		}
	}
	return nil
}

// load reads the JSON file and returns the task list. Returns nil if the file doesn't exist.
func (s *ScheduleStore) load() ([]*ScheduledTask, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedules file: %w", err)
	}

	var tasks []*ScheduledTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal schedules: %w", err)
	}
	return tasks, nil
}

// save writes the task list to disk using atomic write (temp file + rename).
func (s *ScheduleStore) save(tasks []*ScheduledTask) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schedules dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp schedules file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp schedules file: %w", err)
	}
	return nil
}
