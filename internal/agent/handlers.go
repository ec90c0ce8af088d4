// internal/agent/handlers.go
package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/NestozAI/VibeCheck/internal/claude"
	"github.com/NestozAI/VibeCheck/internal/executor"
	"github.com/NestozAI/VibeCheck/internal/protocol"
	"github.com/NestozAI/VibeCheck/internal/screenshot"
	"github.com/NestozAI/VibeCheck/internal/skills"
	"github.com/NestozAI/VibeCheck/internal/workspace"
)

const (
	snapshotTimeout = 2 * time.Second
	maxImages       = 5
)

// screenshotKeywords trigger a headless-browser capture when they appear in
// the user's message (not the assistant response).
var screenshotKeywords = []string{
	"screenshot", "preview", "ui", "스크린샷", "미리보기", "화면",
}

// dispatch routes one decoded inbound message. Queries run in their own
// goroutine so the receive loop stays free to deliver approvals and
// interrupts mid-flight; everything else is quick and handled inline.
func (a *Agent) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Query:
		go a.handleQuery(a.runCtx, m)
	case *protocol.Approval:
		a.mediator.ResolveApproval(m.Approved, m.Permanent)
	case *protocol.AddTrustedPath:
		a.mediator.Trusted().Add(m.Path)
		slog.Info("trusted path added", "path", m.Path)
	case *protocol.Interrupt:
		a.handleInterrupt()
	case *protocol.Ping:
		a.send(protocol.Pong{})
	case *protocol.Pong:
		// keepalive reply, nothing to do
	case *protocol.SessionInfo:
		a.handleSessionInfo(m)
	case *protocol.SkillList:
		a.handleSkillList()
	case *protocol.ScheduleAdd:
		a.handleScheduleAdd(m)
	case *protocol.ScheduleRemove:
		if err := a.scheduler.RemoveTask(m.ID); err != nil {
			slog.Warn("schedule remove failed", "id", m.ID, "error", err)
		}
	case *protocol.ScheduleToggle:
		if err := a.scheduler.ToggleTask(m.ID, m.Enabled); err != nil {
			slog.Warn("schedule toggle failed", "id", m.ID, "error", err)
		}
	case *protocol.ScheduleList:
		a.handleScheduleList()
	case *protocol.ErrorMessage:
		slog.Warn("server reported error", "message", m.Message)
	default:
		slog.Debug("unhandled message", "type", msg.Type())
	}
}

// handleQuery runs one interactive query through the execution slot. A busy
// slot gets the canned busy response without touching the assistant.
func (a *Agent) handleQuery(ctx context.Context, q *protocol.Query) {
	if !a.slot.TryAcquire(1) {
		a.send(protocol.Response{Result: busyMessage})
		return
	}
	defer func() {
		a.slot.Release(1)
		go a.drainQueue(ctx)
	}()

	before := workspace.SnapshotWithTimeout(a.cfg.WorkDir, snapshotTimeout)

	result, err := a.executor.Execute(ctx, executor.Request{
		Message:      q.Message,
		Model:        q.Model,
		SystemPrompt: q.SystemPrompt,
		Skill:        skills.Lookup(q.SkillID),
		Agents:       convertAgents(q.Agents),
	})
	if errors.Is(err, executor.ErrAborted) {
		// The interrupt handler already responded.
		return
	}
	if err != nil {
		slog.Error("query failed", "error", err)
		a.send(protocol.Response{Result: errorPrefix + err.Error()})
		return
	}

	a.send(protocol.Response{
		Result:   result.Text,
		Images:   a.collectImages(ctx, q.Message, result.Text, before),
		CostUSD:  result.CostUSD,
		NumTurns: result.NumTurns,
		Usage:    result.Usage,
	})
}

// handleInterrupt aborts the in-flight query, if any, and confirms to the
// UI. Idle interrupts are silent.
func (a *Agent) handleInterrupt() {
	if a.executor.Interrupt() {
		slog.Info("query interrupted")
		a.send(protocol.Response{Result: interruptedMessage})
	}
}

// handleSessionInfo adopts a server-known session id when this agent has
// none of its own.
func (a *Agent) handleSessionInfo(m *protocol.SessionInfo) {
	if m.Source != "server" || m.SessionID == nil || *m.SessionID == "" {
		return
	}
	if a.executor.SessionID() != "" {
		return
	}
	if err := a.executor.AdoptSession(*m.SessionID); err != nil {
		slog.Error("failed to adopt session", "error", err)
		return
	}
	slog.Info("adopted server session", "session_id", *m.SessionID)
}

func (a *Agent) handleSkillList() {
	all := skills.All()
	infos := make([]protocol.SkillInfo, 0, len(all))
	for _, s := range all {
		infos = append(infos, protocol.SkillInfo{
			ID:          s.ID,
			Name:        s.Name,
			Icon:        s.Icon,
			Description: s.Description,
		})
	}
	a.send(protocol.SkillListResponse{Skills: infos})
}

func (a *Agent) handleScheduleAdd(m *protocol.ScheduleAdd) {
	task, err := a.scheduler.AddTask(m.Cron, m.Message, m.SkillID)
	if err != nil {
		a.send(protocol.ScheduleAddResponse{Success: false, Error: err.Error()})
		return
	}
	a.send(protocol.ScheduleAddResponse{Success: true, Task: task})
}

func (a *Agent) handleScheduleList() {
	tasks, err := a.scheduler.Tasks()
	if err != nil {
		slog.Error("failed to list schedules", "error", err)
		return
	}
	a.send(protocol.ScheduleListResponse{Tasks: tasks})
}

// collectImages assembles the response attachments: a fresh screenshot first
// when the user asked for one, then workspace images that changed during the
// query, then (only if still empty) images named in the response text. The
// total is capped.
func (a *Agent) collectImages(ctx context.Context, userMessage, responseText string, before map[string]time.Time) []protocol.ImageData {
	var images []protocol.ImageData

	if hasScreenshotKeyword(userMessage) {
		if png := a.captureScreenshot(ctx); png != nil {
			images = append(images, protocol.ImageData{
				Filename: "screenshot.png",
				Data:     base64.StdEncoding.EncodeToString(png),
			})
		}
	}

	changed := workspace.FindNewOrModified(a.cfg.WorkDir, before)
	images = append(images, workspace.LoadImages(changed, maxImages-len(images))...)

	if len(images) == 0 {
		paths := workspace.ExtractImagePaths(responseText, a.cfg.WorkDir)
		images = workspace.LoadImages(paths, maxImages)
	}
	return images
}

// captureScreenshot grabs a preview of the project: a local dev server when
// one is configured, else the discovered static index.html. Any failure is
// logged and the image is simply omitted.
func (a *Agent) captureScreenshot(ctx context.Context) []byte {
	ctx, cancel := context.WithTimeout(ctx, screenshot.PortWaitTimeout+20*time.Second)
	defer cancel()

	if a.cfg.PreviewPort > 0 {
		png, err := screenshot.CapturePort(ctx, a.cfg.DevToolsAddr, a.cfg.PreviewPort)
		if err != nil {
			slog.Warn("dev server screenshot failed", "port", a.cfg.PreviewPort, "error", err)
			return nil
		}
		return png
	}

	dir := screenshot.FindProjectDir(a.cfg.WorkDir)
	if dir == "" {
		slog.Debug("no previewable project found", "work_dir", a.cfg.WorkDir)
		return nil
	}
	png, err := screenshot.Capture(ctx, a.cfg.DevToolsAddr, "file://"+dir+"/index.html")
	if err != nil {
		slog.Warn("screenshot failed", "dir", dir, "error", err)
		return nil
	}
	return png
}

func hasScreenshotKeyword(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range screenshotKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func convertAgents(defs map[string]protocol.AgentDef) map[string]claude.AgentDef {
	if len(defs) == 0 {
		return nil
	}
	agents := make(map[string]claude.AgentDef, len(defs))
	for name, def := range defs {
		agents[name] = claude.AgentDef{
			Description: def.Description,
			Prompt:      def.Prompt,
			Tools:       def.Tools,
			Model:       def.Model,
		}
	}
	return agents
}
