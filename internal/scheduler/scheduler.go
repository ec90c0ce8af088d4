// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/NestozAI/VibeCheck/internal/state"
)

// FireFunc is the callback invoked when a scheduled task fires. It receives
// a snapshot of the task at fire time.
type FireFunc func(task *state.ScheduledTask)

// Scheduler arms enabled tasks from the schedule store as cron jobs and
// fires them through a handler callback. Expressions are standard 5-field
// cron, validated at insertion.
type Scheduler struct {
	store      *state.ScheduleStore
	onTaskFire FireFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// New creates a Scheduler backed by the given store. The handler is called
// each time a task fires.
func New(store *state.ScheduleStore, onTaskFire FireFunc) *Scheduler {
	return &Scheduler{
		store:      store,
		onTaskFire: onTaskFire,
		cron:       cron.New(),
		entries:    make(map[string]cron.EntryID),
	}
}

// ValidateCron reports whether expr is a valid 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Start loads persisted tasks, re-arms the enabled ones, and starts the
// cron ticker. Tasks whose stored expression no longer parses are skipped.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		if err := s.arm(task); err != nil {
			slog.Error("skipping task with invalid schedule", "id", task.ID, "cron", task.Cron, "error", err)
			continue
		}
		slog.Info("scheduled task armed", "id", task.ID, "cron", task.Cron)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}

// Tasks returns all persisted tasks.
func (s *Scheduler) Tasks() ([]*state.ScheduledTask, error) {
	return s.store.List()
}

// AddTask validates the cron expression, persists the new task, and arms
// it. Invalid expressions are rejected without touching the store.
func (s *Scheduler) AddTask(cronExpr, message, skillID string) (*state.ScheduledTask, error) {
	if err := ValidateCron(cronExpr); err != nil {
		return nil, err
	}

	task := &state.ScheduledTask{
		ID:        uuid.New().String(),
		Cron:      cronExpr,
		Message:   message,
		SkillID:   skillID,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.store.Add(task); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.arm(task); err != nil {
		return nil, err
	}
	slog.Info("scheduled task added", "id", task.ID, "cron", task.Cron)
	return task, nil
}

// RemoveTask deletes a task and disarms its cron job.
func (s *Scheduler) RemoveTask(id string) error {
	if err := s.store.Remove(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarm(id)
	slog.Info("scheduled task removed", "id", id)
	return nil
}

// ToggleTask enables or disables a task, reconciling its cron job.
func (s *Scheduler) ToggleTask(id string, enabled bool) error {
	if err := s.store.SetEnabled(id, enabled); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarm(id)
	if enabled {
		task, err := s.store.Get(id)
		if err != nil {
			return err
		}
		if err := s.arm(task); err != nil {
			return err
		}
	}
	slog.Info("scheduled task toggled", "id", id, "enabled", enabled)
	return nil
}

// arm registers a cron job for the task. Caller holds the lock.
func (s *Scheduler) arm(task *state.ScheduledTask) error {
	id := task.ID
	entryID, err := s.cron.AddFunc(task.Cron, func() {
		s.fire(id)
	})
	if err != nil {
		return fmt.Errorf("arm task %s: %w", id, err)
	}
	s.entries[id] = entryID
	return nil
}

// disarm removes the cron job for the task id, if armed. Caller holds the lock.
func (s *Scheduler) disarm(id string) {
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire records the run time and hands a task snapshot to the handler.
func (s *Scheduler) fire(id string) {
	task, err := s.store.Get(id)
	if err != nil {
		slog.Warn("fired task no longer exists", "id", id)
		return
	}
	if err := s.store.MarkRun(id, time.Now()); err != nil {
		slog.Error("failed to record task run", "id", id, "error", err)
	}
	slog.Info("cron firing task", "id", id, "cron", task.Cron)
	s.onTaskFire(task)
}
