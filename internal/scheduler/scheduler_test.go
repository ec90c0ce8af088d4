// internal/scheduler/scheduler_test.go
package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/NestozAI/VibeCheck/internal/state"
)

func newTestScheduler(t *testing.T, fire FireFunc) (*Scheduler, *state.ScheduleStore) {
	t.Helper()
	store := state.NewScheduleStore(filepath.Join(t.TempDir(), "schedules.json"))
	if fire == nil {
		fire = func(*state.ScheduledTask) {}
	}
	return New(store, fire), store
}

func TestValidateCron(t *testing.T) {
	valid := []string{"* * * * *", "0 9 * * 1-5", "*/15 * * * *", "30 2 1 * *"}
	for _, expr := range valid {
		if err := ValidateCron(expr); err != nil {
			t.Errorf("expected %q valid: %v", expr, err)
		}
	}

	invalid := []string{"every day", "", "* * * *", "61 * * * *", "banana"}
	for _, expr := range invalid {
		if err := ValidateCron(expr); err == nil {
			t.Errorf("expected %q to be rejected", expr)
		}
	}
}

func TestAddTask_Valid(t *testing.T) {
	s, store := newTestScheduler(t, nil)

	task, err := s.AddTask("0 9 * * 1-5", "morning report", "daily-report")
	if err != nil {
		t.Fatal(err)
	}
	if task.ID == "" {
		t.Error("expected generated task id")
	}
	if !task.Enabled {
		t.Error("new tasks start enabled")
	}

	persisted, err := store.Get(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Cron != "0 9 * * 1-5" || persisted.Message != "morning report" {
		t.Errorf("unexpected persisted task: %+v", persisted)
	}
}

func TestAddTask_InvalidCronRejected(t *testing.T) {
	s, store := newTestScheduler(t, nil)

	if _, err := s.AddTask("every day", "x", ""); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}

	tasks, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Error("rejected task must not touch the store")
	}
}

func TestRemoveTask(t *testing.T) {
	s, store := newTestScheduler(t, nil)

	task, err := s.AddTask("* * * * *", "x", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveTask(task.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(task.ID); err == nil {
		t.Error("removed task must leave the store")
	}
	s.mu.Lock()
	_, armed := s.entries[task.ID]
	s.mu.Unlock()
	if armed {
		t.Error("removed task must be disarmed")
	}
}

func TestToggleTask(t *testing.T) {
	s, store := newTestScheduler(t, nil)

	task, err := s.AddTask("* * * * *", "x", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ToggleTask(task.ID, false); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("expected task disabled")
	}
	s.mu.Lock()
	_, armed := s.entries[task.ID]
	s.mu.Unlock()
	if armed {
		t.Error("disabled task must be disarmed")
	}

	if err := s.ToggleTask(task.ID, true); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	_, armed = s.entries[task.ID]
	s.mu.Unlock()
	if !armed {
		t.Error("re-enabled task must be re-armed")
	}
}

func TestStart_ArmsOnlyEnabled(t *testing.T) {
	store := state.NewScheduleStore(filepath.Join(t.TempDir(), "schedules.json"))
	if err := store.Add(&state.ScheduledTask{ID: "on", Cron: "* * * * *", Message: "x", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&state.ScheduledTask{ID: "off", Cron: "* * * * *", Message: "x", Enabled: false}); err != nil {
		t.Fatal(err)
	}
	// Stored tasks are validated at insertion, but a file edited by hand can
	// hold garbage; it must be skipped, not fatal.
	if err := store.Add(&state.ScheduledTask{ID: "bad", Cron: "nope", Message: "x", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	s := New(store, func(*state.ScheduledTask) {})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries["on"]; !ok {
		t.Error("enabled task must be armed")
	}
	if _, ok := s.entries["off"]; ok {
		t.Error("disabled task must not be armed")
	}
	if _, ok := s.entries["bad"]; ok {
		t.Error("invalid expression must be skipped")
	}
}

func TestFire_MarksRunAndCallsHandler(t *testing.T) {
	fired := make(chan *state.ScheduledTask, 1)
	s, store := newTestScheduler(t, func(task *state.ScheduledTask) {
		fired <- task
	})

	task, err := s.AddTask("* * * * *", "ping", "")
	if err != nil {
		t.Fatal(err)
	}

	s.fire(task.ID)

	select {
	case got := <-fired:
		if got.ID != task.ID || got.Message != "ping" {
			t.Errorf("unexpected fired task: %+v", got)
		}
	default:
		t.Fatal("handler was not invoked")
	}

	persisted, err := store.Get(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.LastRun == nil {
		t.Error("fire must record last_run")
	}
}

func TestFire_RemovedTaskIgnored(t *testing.T) {
	fired := make(chan *state.ScheduledTask, 1)
	s, _ := newTestScheduler(t, func(task *state.ScheduledTask) {
		fired <- task
	})

	s.fire("gone")

	select {
	case <-fired:
		t.Fatal("handler must not run for a removed task")
	default:
	}
}
