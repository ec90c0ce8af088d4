// internal/agent/agent_test.go
package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/NestozAI/VibeCheck/internal/claude"
	"github.com/NestozAI/VibeCheck/internal/config"
	"github.com/NestozAI/VibeCheck/internal/executor"
	"github.com/NestozAI/VibeCheck/internal/protocol"
	"github.com/NestozAI/VibeCheck/internal/state"
)

// fakeStream replays canned events; with no events it blocks until
// interrupted.
type fakeStream struct {
	ch   chan *claude.Event
	once sync.Once
}

func newFakeStream(events ...*claude.Event) *fakeStream {
	f := &fakeStream{ch: make(chan *claude.Event, len(events))}
	for _, ev := range events {
		f.ch <- ev
	}
	if len(events) > 0 {
		close(f.ch)
	}
	return f
}

func (f *fakeStream) Events() <-chan *claude.Event { return f.ch }

func (f *fakeStream) Err() error { return nil }

func (f *fakeStream) Interrupt() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

func successEvent(text string) *claude.Event {
	cost := 0.001
	return &claude.Event{
		Type: "result", Subtype: "success", SessionID: "s1",
		Result: text, TotalCostUSD: &cost, NumTurns: 1,
	}
}

func newTestAgent(t *testing.T, start executor.Starter) (*Agent, chan protocol.Message) {
	t.Helper()
	cfg := &config.Config{
		APIKey:    "test-key",
		WorkDir:   t.TempDir(),
		ServerURL: "ws://127.0.0.1:0/ws/agent",
	}
	a, err := New(cfg, t.TempDir(), start)
	if err != nil {
		t.Fatal(err)
	}
	sent := make(chan protocol.Message, 64)
	a.sendFn = func(m protocol.Message) { sent <- m }
	return a, sent
}

func waitMessage(t *testing.T, sent chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case m := <-sent:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func expectNoMessage(t *testing.T, sent chan protocol.Message) {
	t.Helper()
	select {
	case m := <-sent:
		t.Fatalf("unexpected outbound message %s", m.Type())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleQuery_StreamsAndResponds(t *testing.T) {
	stream := newFakeStream(
		&claude.Event{Type: "stream_event", SessionID: "s1", Event: &claude.StreamEvent{
			Delta: &claude.Delta{Type: "text_delta", Text: "hi"},
		}},
		successEvent("hi"),
	)
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		return stream, nil
	})

	a.handleQuery(context.Background(), &protocol.Query{Message: "hello"})

	chunk, ok := waitMessage(t, sent).(protocol.StreamingChunk)
	if !ok || chunk.Delta != "hi" || chunk.Index != 0 {
		t.Fatalf("expected first chunk, got %+v", chunk)
	}
	resp, ok := waitMessage(t, sent).(protocol.Response)
	if !ok {
		t.Fatal("expected terminal response")
	}
	if resp.Result != "hi" {
		t.Errorf("expected result hi, got %q", resp.Result)
	}
	if resp.CostUSD == nil || *resp.CostUSD != 0.001 {
		t.Errorf("expected cost passthrough, got %v", resp.CostUSD)
	}

	// The slot was released.
	if !a.slot.TryAcquire(1) {
		t.Fatal("execution slot must be free after the query")
	}
	a.slot.Release(1)
}

func TestHandleQuery_BusyRejected(t *testing.T) {
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		t.Fatal("assistant must not be invoked while busy")
		return nil, nil
	})

	if !a.slot.TryAcquire(1) {
		t.Fatal("setup: slot should be free")
	}
	defer a.slot.Release(1)

	a.handleQuery(context.Background(), &protocol.Query{Message: "second"})

	resp, ok := waitMessage(t, sent).(protocol.Response)
	if !ok {
		t.Fatal("expected busy response")
	}
	if resp.Result != busyMessage {
		t.Errorf("expected busy message, got %q", resp.Result)
	}
}

func TestHandleInterrupt_AbortsWithoutDoubleResponse(t *testing.T) {
	stream := newFakeStream() // blocks until interrupted
	started := make(chan struct{})
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		close(started)
		return stream, nil
	})

	queryDone := make(chan struct{})
	go func() {
		a.handleQuery(context.Background(), &protocol.Query{Message: "long job"})
		close(queryDone)
	}()
	<-started

	// The stream registers just after the starter returns; retry the
	// interrupt until it lands. A successful handleInterrupt responds
	// synchronously, so an empty channel means it was a no-op.
	deadline := time.Now().Add(3 * time.Second)
	for {
		a.handleInterrupt()
		select {
		case m := <-sent:
			resp, ok := m.(protocol.Response)
			if !ok || resp.Result != interruptedMessage {
				t.Fatalf("expected interrupt response, got %+v", m)
			}
		default:
			if time.Now().After(deadline) {
				t.Fatal("interrupt never landed")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		break
	}

	<-queryDone

	// The aborted query must not send its own terminal response.
	expectNoMessage(t, sent)
}

func TestHandleInterrupt_IdleIsSilent(t *testing.T) {
	a, sent := newTestAgent(t, nil)
	a.handleInterrupt()
	expectNoMessage(t, sent)
}

func TestHandleQuery_ErrorResponse(t *testing.T) {
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		return nil, context.DeadlineExceeded
	})

	a.handleQuery(context.Background(), &protocol.Query{Message: "x"})

	resp := waitMessage(t, sent).(protocol.Response)
	if !strings.HasPrefix(resp.Result, errorPrefix) {
		t.Errorf("expected localized error prefix, got %q", resp.Result)
	}
}

func TestScheduledTask_QueuedWhileBusyThenDrained(t *testing.T) {
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		return newFakeStream(successEvent("report done")), nil
	})

	task := &state.ScheduledTask{ID: "t1", Cron: "* * * * *", Message: "ping", Enabled: true}
	if err := a.schedules.Add(task); err != nil {
		t.Fatal(err)
	}

	// Slot busy: the firing must queue, not execute.
	if !a.slot.TryAcquire(1) {
		t.Fatal("setup: slot should be free")
	}
	a.onTaskFire(task)
	expectNoMessage(t, sent)

	a.queueMu.Lock()
	depth := len(a.pendingTasks)
	a.queueMu.Unlock()
	if depth != 1 {
		t.Fatalf("expected 1 queued task, got %d", depth)
	}

	// Release and drain: the queued task runs and responds exactly once.
	a.slot.Release(1)
	a.drainQueue(context.Background())

	resp, ok := waitMessage(t, sent).(protocol.Response)
	if !ok {
		t.Fatal("expected scheduled-task response")
	}
	want := "⏰ [* * * * *] report done"
	if resp.Result != want {
		t.Errorf("expected %q, got %q", want, resp.Result)
	}
	expectNoMessage(t, sent)

	got, err := a.schedules.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastResult != "report done" {
		t.Errorf("expected last_result recorded, got %q", got.LastResult)
	}
}

func TestScheduledTask_FireRacingReleaseIsNotStranded(t *testing.T) {
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		return newFakeStream(successEvent("ran")), nil
	})

	task := &state.ScheduledTask{ID: "t1", Cron: "* * * * *", Message: "ping", Enabled: true}
	if err := a.schedules.Add(task); err != nil {
		t.Fatal(err)
	}

	// Repeatedly race a firing against a slot release whose drain may run
	// before the firing enqueues. Every round must still produce exactly one
	// response; a stranded task shows up as a missing one.
	for i := 0; i < 200; i++ {
		deadline := time.Now().Add(3 * time.Second)
		for !a.slot.TryAcquire(1) {
			if time.Now().After(deadline) {
				t.Fatal("slot never freed between rounds")
			}
			time.Sleep(time.Millisecond)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.slot.Release(1)
			a.drainQueue(context.Background())
		}()
		go func() {
			defer wg.Done()
			a.onTaskFire(task)
		}()
		wg.Wait()

		resp, ok := waitMessage(t, sent).(protocol.Response)
		if !ok || !strings.HasPrefix(resp.Result, "⏰ ") {
			t.Fatalf("round %d: expected scheduled-task response, got %+v", i, resp)
		}
	}
	expectNoMessage(t, sent)
}

func TestScheduledTask_LastResultTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("보고서 ", 100) // 400 runes, multi-byte
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		return newFakeStream(successEvent(long)), nil
	})

	task := &state.ScheduledTask{ID: "t1", Cron: "0 9 * * *", Message: "report", Enabled: true}
	if err := a.schedules.Add(task); err != nil {
		t.Fatal(err)
	}

	a.onTaskFire(task)
	waitMessage(t, sent)

	got, err := a.schedules.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(got.LastResult) {
		t.Fatalf("last_result is not valid UTF-8: %q", got.LastResult)
	}
	if count := utf8.RuneCountInString(got.LastResult); count != 200 {
		t.Errorf("expected 200 runes, got %d", count)
	}
}

func TestScheduledTask_RunsImmediatelyWhenIdle(t *testing.T) {
	a, sent := newTestAgent(t, func(ctx context.Context, prompt string, opts claude.Options) (executor.Stream, error) {
		return newFakeStream(successEvent("ok")), nil
	})

	a.onTaskFire(&state.ScheduledTask{ID: "t1", Cron: "0 9 * * *", Message: "go"})

	resp, ok := waitMessage(t, sent).(protocol.Response)
	if !ok {
		t.Fatal("expected response")
	}
	if !strings.HasPrefix(resp.Result, "⏰ [0 9 * * *] ") {
		t.Errorf("expected cron prefix, got %q", resp.Result)
	}
}

func TestHandleSessionInfo_AdoptsServerSession(t *testing.T) {
	a, _ := newTestAgent(t, nil)

	id := "srv-123"
	a.handleSessionInfo(&protocol.SessionInfo{SessionID: &id, Source: "server"})

	if a.executor.SessionID() != "srv-123" {
		t.Errorf("expected adopted session, got %q", a.executor.SessionID())
	}
	persisted, err := a.sessions.Load()
	if err != nil {
		t.Fatal(err)
	}
	if persisted != "srv-123" {
		t.Errorf("adoption must persist, got %q", persisted)
	}
}

func TestHandleSessionInfo_KeepsOwnSession(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	if err := a.executor.AdoptSession("mine"); err != nil {
		t.Fatal(err)
	}

	id := "srv-123"
	a.handleSessionInfo(&protocol.SessionInfo{SessionID: &id, Source: "server"})
	if a.executor.SessionID() != "mine" {
		t.Error("agent session must win over the server's")
	}

	a.handleSessionInfo(&protocol.SessionInfo{SessionID: nil, Source: "server"})
	if a.executor.SessionID() != "mine" {
		t.Error("null server session must not clear the agent's")
	}
}

func TestHandleSkillList(t *testing.T) {
	a, sent := newTestAgent(t, nil)
	a.handleSkillList()

	resp, ok := waitMessage(t, sent).(protocol.SkillListResponse)
	if !ok {
		t.Fatal("expected skill_list_response")
	}
	if len(resp.Skills) == 0 {
		t.Fatal("expected non-empty skill table")
	}
	for _, s := range resp.Skills {
		if s.ID == "" || s.Name == "" {
			t.Errorf("incomplete skill info: %+v", s)
		}
	}
}

func TestHandleScheduleAdd(t *testing.T) {
	a, sent := newTestAgent(t, nil)

	a.handleScheduleAdd(&protocol.ScheduleAdd{Cron: "0 9 * * 1-5", Message: "report"})
	good := waitMessage(t, sent).(protocol.ScheduleAddResponse)
	if !good.Success || good.Task == nil {
		t.Fatalf("expected success, got %+v", good)
	}

	a.handleScheduleAdd(&protocol.ScheduleAdd{Cron: "every day", Message: "nope"})
	bad := waitMessage(t, sent).(protocol.ScheduleAddResponse)
	if bad.Success || bad.Error == "" {
		t.Fatalf("expected structured failure, got %+v", bad)
	}
}

func TestDispatch_PingPong(t *testing.T) {
	a, sent := newTestAgent(t, nil)
	a.dispatch(&protocol.Ping{})
	if _, ok := waitMessage(t, sent).(protocol.Pong); !ok {
		t.Fatal("expected pong")
	}

	a.dispatch(&protocol.Pong{})
	expectNoMessage(t, sent)
}

func TestDispatch_AddTrustedPath(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	a.dispatch(&protocol.AddTrustedPath{Path: "/somewhere/else"})
	if !a.mediator.Trusted().IsTrusted("/somewhere/else/file.txt") {
		t.Error("dispatched path must join the trusted set")
	}
}

func TestHasScreenshotKeyword(t *testing.T) {
	positive := []string{
		"take a Screenshot please",
		"show me a preview",
		"스크린샷 보여줘",
		"화면 어때?",
	}
	for _, msg := range positive {
		if !hasScreenshotKeyword(msg) {
			t.Errorf("expected %q to trigger screenshot", msg)
		}
	}

	if hasScreenshotKeyword("fix the bug in main.go") {
		t.Error("plain coding request must not trigger screenshot")
	}
}
