// internal/executor/executor.go
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/NestozAI/VibeCheck/internal/claude"
	"github.com/NestozAI/VibeCheck/internal/protocol"
	"github.com/NestozAI/VibeCheck/internal/skills"
	"github.com/NestozAI/VibeCheck/internal/state"
)

// ErrAborted is returned by Execute when the query was interrupted. The
// caller must not send its own terminal response for an aborted query; the
// interrupt handler has already spoken.
var ErrAborted = errors.New("query aborted")

// globalAllowedTools is the default tool set when no skill restricts it.
var globalAllowedTools = []string{
	"Read", "Write", "Edit", "Bash", "Glob", "Grep",
	"WebFetch", "WebSearch", "TodoWrite", "NotebookEdit",
}

// Stream is the event stream of one in-flight assistant query.
type Stream interface {
	Events() <-chan *claude.Event
	Err() error
	Interrupt() error
}

// Starter launches one assistant query. Production wraps claude.StartQuery;
// tests substitute fakes.
type Starter func(ctx context.Context, prompt string, opts claude.Options) (Stream, error)

// Sender delivers an outbound protocol message to the UI.
type Sender func(protocol.Message)

// Request is one prompt plus its optional modifiers.
type Request struct {
	Message      string
	Model        string
	SystemPrompt string
	Skill        *skills.Skill
	Agents       map[string]claude.AgentDef
}

// Result is the outcome of one completed query.
type Result struct {
	Text     string
	CostUSD  *float64
	NumTurns *int
	Usage    *protocol.Usage
}

// Executor drives the assistant for one prompt at a time, translating the
// event stream into outbound UI messages. Callers enforce single-flight;
// the executor only tracks the current stream so it can be interrupted.
type Executor struct {
	workDir    string
	start      Starter
	sessions   *state.SessionStore
	send       Sender
	canUseTool claude.PermissionFunc

	// OnSessionUpdate is invoked after a new session id is persisted.
	OnSessionUpdate func(sessionID string)

	mu          sync.Mutex
	sessionID   string
	started     bool
	current     Stream
	cancel      context.CancelFunc
	interrupted bool
}

// New creates an Executor. start may be nil, in which case the real
// assistant CLI is used.
func New(workDir string, start Starter, sessions *state.SessionStore, send Sender, canUseTool claude.PermissionFunc) *Executor {
	if start == nil {
		start = func(ctx context.Context, prompt string, opts claude.Options) (Stream, error) {
			return claude.StartQuery(ctx, prompt, opts)
		}
	}
	return &Executor{
		workDir:    workDir,
		start:      start,
		sessions:   sessions,
		send:       send,
		canUseTool: canUseTool,
	}
}

// LoadSession loads the persisted session id unless newSession is set, in
// which case any stored id is discarded.
func (e *Executor) LoadSession(newSession bool) error {
	if newSession {
		if err := e.sessions.Clear(); err != nil {
			return err
		}
		return nil
	}
	id, err := e.sessions.Load()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
	if id != "" {
		slog.Info("resuming session", "session_id", id)
	}
	return nil
}

// SessionID returns the current session id, or "".
func (e *Executor) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// AdoptSession stores and persists a server-provided session id. Used when
// the relay knows a session this agent does not.
func (e *Executor) AdoptSession(sessionID string) error {
	e.mu.Lock()
	e.sessionID = sessionID
	e.mu.Unlock()
	return e.sessions.Save(sessionID)
}

// Execute runs one prompt to completion, streaming chunks and tool status
// to the UI as they arrive. A stale stored session id is cleared and the
// query retried exactly once.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	result, err := e.executeOnce(ctx, req)
	if err != nil && e.isStaleSession(err) {
		slog.Warn("stale session, retrying once", "error", err)
		e.mu.Lock()
		e.sessionID = ""
		e.started = false
		e.mu.Unlock()
		if clearErr := e.sessions.Clear(); clearErr != nil {
			slog.Error("failed to clear stale session", "error", clearErr)
		}
		return e.executeOnce(ctx, req)
	}
	return result, err
}

func (e *Executor) executeOnce(ctx context.Context, req Request) (*Result, error) {
	opts := e.buildOptions(req)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := e.start(ctx, req.Message, opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.current = stream
	e.cancel = cancel
	e.interrupted = false
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.current = nil
		e.cancel = nil
		e.mu.Unlock()
	}()

	var (
		chunkIndex   int
		newSessionID string
		toolNames    = make(map[string]string) // tool_use id -> name
		result       *Result
	)

	for ev := range stream.Events() {
		if newSessionID == "" && ev.SessionID != "" {
			newSessionID = ev.SessionID
		}

		switch ev.Type {
		case "system":
			if ev.Subtype == "init" {
				slog.Debug("assistant initialized", "session_id", ev.SessionID)
			}

		case "stream_event":
			if delta := ev.TextDelta(); delta != "" {
				e.send(protocol.StreamingChunk{Delta: delta, Index: chunkIndex})
				chunkIndex++
			}

		case "assistant":
			for _, use := range ev.ToolUses() {
				toolNames[use.ID] = use.Name
				e.send(protocol.ToolStatus{
					Tool:   use.Name,
					Status: "start",
					Label:  protocol.ToolLabel(use.Name, "start"),
					Detail: toolDetail(use.Name, use.Input),
				})
			}

		case "user":
			for _, res := range ev.ToolResults() {
				name, ok := toolNames[res.ToolUseID]
				if !ok {
					continue
				}
				e.send(protocol.ToolStatus{
					Tool:   name,
					Status: "end",
					Label:  protocol.ToolLabel(name, "end"),
				})
			}

		case "result":
			result = e.collectResult(ev)
		}
	}

	e.mu.Lock()
	interrupted := e.interrupted
	e.mu.Unlock()
	if interrupted {
		return nil, ErrAborted
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("assistant stream ended without a result event")
	}

	e.finishSession(newSessionID)
	return result, nil
}

func (e *Executor) buildOptions(req Request) claude.Options {
	opts := claude.Options{
		WorkDir:    e.workDir,
		Model:      req.Model,
		Agents:     req.Agents,
		CanUseTool: e.canUseTool,
	}

	opts.AllowedTools = globalAllowedTools
	if req.Skill != nil && len(req.Skill.AllowedTools) > 0 {
		opts.AllowedTools = req.Skill.AllowedTools
	}

	var prompts []string
	if req.Skill != nil && req.Skill.SystemPrompt != "" {
		prompts = append(prompts, req.Skill.SystemPrompt)
	}
	if req.SystemPrompt != "" {
		prompts = append(prompts, req.SystemPrompt)
	}
	opts.AppendSystemPrompt = strings.Join(prompts, "\n\n")

	e.mu.Lock()
	if e.sessionID != "" {
		opts.Resume = e.sessionID
	} else if e.started {
		opts.Continue = true
	}
	e.mu.Unlock()

	return opts
}

// collectResult builds the Result from the terminal event. Error subtypes
// produce a localized error string while still capturing cost.
func (e *Executor) collectResult(ev *claude.Event) *Result {
	result := &Result{CostUSD: ev.TotalCostUSD}
	if ev.NumTurns > 0 {
		turns := ev.NumTurns
		result.NumTurns = &turns
	}
	if ev.Usage != nil {
		result.Usage = &protocol.Usage{
			InputTokens:         ev.Usage.InputTokens,
			OutputTokens:        ev.Usage.OutputTokens,
			CacheReadTokens:     ev.Usage.CacheReadInputTokens,
			CacheCreationTokens: ev.Usage.CacheCreationInputTokens,
		}
	}

	if ev.Subtype == "success" && !ev.IsError {
		result.Text = stripANSI(ev.Result)
	} else {
		result.Text = "❌ 오류가 발생했습니다: " + ev.ErrorText()
	}
	return result
}

// finishSession persists a newly reported session id and marks the process
// as having executed at least one query.
func (e *Executor) finishSession(newSessionID string) {
	e.mu.Lock()
	changed := newSessionID != "" && newSessionID != e.sessionID
	if changed {
		e.sessionID = newSessionID
	}
	e.started = true
	e.mu.Unlock()

	if !changed {
		return
	}
	if err := e.sessions.Save(newSessionID); err != nil {
		slog.Error("failed to persist session id", "error", err)
		return
	}
	if e.OnSessionUpdate != nil {
		e.OnSessionUpdate(newSessionID)
	}
}

// Interrupt stops the in-flight query, if any. Reports whether a query was
// actually interrupted.
func (e *Executor) Interrupt() bool {
	e.mu.Lock()
	stream := e.current
	cancel := e.cancel
	if stream != nil {
		e.interrupted = true
	}
	e.mu.Unlock()

	if stream == nil {
		return false
	}
	if err := stream.Interrupt(); err != nil {
		slog.Warn("native interrupt failed, cancelling", "error", err)
		if cancel != nil {
			cancel()
		}
	}
	return true
}

// isStaleSession matches errors caused by resuming a session id the
// assistant no longer knows.
func (e *Executor) isStaleSession(err error) bool {
	e.mu.Lock()
	hadSession := e.sessionID != ""
	e.mu.Unlock()
	if !hadSession {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "session") || strings.Contains(msg, "not found")
}

// toolDetail extracts a short human-readable summary of a tool invocation.
func toolDetail(tool string, input json.RawMessage) string {
	switch tool {
	case "Read", "Write", "Edit":
		var in struct {
			FilePath string `json:"file_path"`
		}
		if json.Unmarshal(input, &in) == nil {
			return in.FilePath
		}
	case "Bash":
		var in struct {
			Command string `json:"command"`
		}
		if json.Unmarshal(input, &in) == nil {
			if r := []rune(in.Command); len(r) > 80 {
				return string(r[:80])
			}
			return in.Command
		}
	case "Glob", "Grep":
		var in struct {
			Pattern string `json:"pattern"`
		}
		if json.Unmarshal(input, &in) == nil {
			return in.Pattern
		}
	case "WebFetch":
		var in struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(input, &in) == nil {
			return in.URL
		}
	case "WebSearch":
		var in struct {
			Query string `json:"query"`
		}
		if json.Unmarshal(input, &in) == nil {
			return in.Query
		}
	}
	return ""
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// stripANSI removes terminal escape sequences that slip through NO_COLOR.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
