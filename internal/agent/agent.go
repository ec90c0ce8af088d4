// Package agent ties the connection loop, query executor, security mediator
// and scheduler together into the long-running daemon.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/NestozAI/VibeCheck/internal/config"
	"github.com/NestozAI/VibeCheck/internal/executor"
	"github.com/NestozAI/VibeCheck/internal/protocol"
	"github.com/NestozAI/VibeCheck/internal/scheduler"
	"github.com/NestozAI/VibeCheck/internal/security"
	"github.com/NestozAI/VibeCheck/internal/skills"
	"github.com/NestozAI/VibeCheck/internal/state"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 15 * time.Second

	busyMessage        = "이전 작업이 아직 실행 중입니다. 잠시 기다려주세요."
	interruptedMessage = "⏹️ 작업이 중단되었습니다. 다음 메시지를 기다리는 중..."
	errorPrefix        = "❌ 오류가 발생했습니다: "
)

// Agent is the daemon core. One Agent serves one working directory for one
// API key.
type Agent struct {
	cfg       *config.Config
	sessions  *state.SessionStore
	schedules *state.ScheduleStore
	mediator  *security.Mediator
	executor  *executor.Executor
	scheduler *scheduler.Scheduler

	// slot is the single-flight execution slot. Exactly one interactive
	// query or scheduled task holds it at a time.
	slot *semaphore.Weighted

	// runCtx is the process-lifetime context, set by Run. Query and task
	// execution hang off it rather than any one connection.
	runCtx context.Context

	connMu sync.Mutex
	conn   *wsConn

	// sendFn overrides the websocket sink when set; used by tests.
	sendFn func(protocol.Message)

	queueMu      sync.Mutex
	pendingTasks []*state.ScheduledTask
}

// New wires an Agent from its configuration. stateDir holds the session and
// schedule files. start substitutes the assistant launcher in tests; pass
// nil for the real CLI.
func New(cfg *config.Config, stateDir string, start executor.Starter) (*Agent, error) {
	a := &Agent{
		cfg:       cfg,
		sessions:  state.NewSessionStore(stateDir, cfg.WorkDir),
		schedules: state.NewScheduleStore(filepath.Join(stateDir, "schedules.json")),
		slot:      semaphore.NewWeighted(1),
		runCtx:    context.Background(),
	}

	a.mediator = security.NewMediator(cfg.WorkDir, a.send)
	a.executor = executor.New(cfg.WorkDir, start, a.sessions, a.send, a.mediator.CanUseTool)
	a.executor.OnSessionUpdate = func(sessionID string) {
		a.send(protocol.SessionUpdate{WorkDir: cfg.WorkDir, SessionID: sessionID})
	}
	a.scheduler = scheduler.New(a.schedules, a.onTaskFire)

	if err := a.executor.LoadSession(cfg.NewSession); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return a, nil
}

// Run connects to the relay and reconnects forever until ctx is cancelled.
// Individual connection failures never propagate; only scheduler startup can
// fail here.
func (a *Agent) Run(ctx context.Context) error {
	a.runCtx = ctx

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	for {
		err := a.runConnection(ctx)
		if ctx.Err() != nil {
			slog.Info("agent shutting down")
			return nil
		}
		slog.Warn("connection lost, reconnecting", "error", err, "delay", reconnectDelay)
		select {
		case <-ctx.Done():
			slog.Info("agent shutting down")
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// onTaskFire is the scheduler callback. When the execution slot is busy the
// task joins the FIFO queue; the post-release drain will run it.
func (a *Agent) onTaskFire(task *state.ScheduledTask) {
	if !a.slot.TryAcquire(1) {
		a.queueMu.Lock()
		a.pendingTasks = append(a.pendingTasks, task)
		depth := len(a.pendingTasks)
		a.queueMu.Unlock()
		slog.Info("execution slot busy, task queued", "id", task.ID, "queue_depth", depth)
		// The holder may have released between the failed acquire and the
		// append, with its drain finding the queue still empty. Re-drain so
		// the task cannot sit queued against a free slot.
		go a.drainQueue(a.runCtx)
		return
	}
	go a.runTask(a.runCtx, task)
}

// runTask executes one scheduled task. The caller has already acquired the
// execution slot; runTask releases it and drains the queue.
func (a *Agent) runTask(ctx context.Context, task *state.ScheduledTask) {
	defer func() {
		a.slot.Release(1)
		go a.drainQueue(ctx)
	}()

	slog.Info("running scheduled task", "id", task.ID, "cron", task.Cron)
	result, err := a.executor.Execute(ctx, executor.Request{
		Message: task.Message,
		Skill:   skills.Lookup(task.SkillID),
	})
	if errors.Is(err, executor.ErrAborted) {
		slog.Info("scheduled task aborted", "id", task.ID)
		return
	}

	var text string
	if err != nil {
		text = errorPrefix + err.Error()
	} else {
		text = result.Text
	}

	snippet := text
	if r := []rune(snippet); len(r) > 200 {
		snippet = string(r[:200])
	}
	if err := a.schedules.RecordResult(task.ID, snippet); err != nil {
		slog.Error("failed to record task result", "id", task.ID, "error", err)
	}

	resp := protocol.Response{Result: fmt.Sprintf("⏰ [%s] %s", task.Cron, text)}
	if err == nil {
		resp.CostUSD = result.CostUSD
		resp.NumTurns = result.NumTurns
		resp.Usage = result.Usage
	}
	a.send(resp)
}

// drainQueue runs at most one pending task. It is scheduled after every slot
// release, so a backlog drains one task per release in FIFO order.
func (a *Agent) drainQueue(ctx context.Context) {
	a.queueMu.Lock()
	empty := len(a.pendingTasks) == 0
	a.queueMu.Unlock()
	if empty {
		return
	}

	if !a.slot.TryAcquire(1) {
		// Someone else took the slot; their release drains next.
		return
	}

	a.queueMu.Lock()
	if len(a.pendingTasks) == 0 {
		a.queueMu.Unlock()
		a.slot.Release(1)
		return
	}
	task := a.pendingTasks[0]
	a.pendingTasks = a.pendingTasks[1:]
	a.queueMu.Unlock()

	a.runTask(ctx, task)
}
