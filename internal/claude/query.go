// internal/claude/query.go
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const interruptGrace = 5 * time.Second

// Query is one in-flight assistant invocation. Events are delivered on the
// Events channel in CLI emission order; the channel closes when the stream
// ends, after which Err reports how the process finished.
type Query struct {
	cmd     *exec.Cmd
	pgid    int
	events  chan *Event
	done    chan struct{}
	cancel  context.CancelFunc
	cleanup []func()

	mu  sync.Mutex
	err error
}

// StartQuery launches the assistant CLI for one prompt and begins streaming
// its events.
func StartQuery(ctx context.Context, prompt string, opts Options) (*Query, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	binary := opts.BinaryPath
	if binary == "" {
		binary = "claude"
	}

	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--include-partial-messages",
		"--verbose",
		"--permission-mode", "default",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	} else if opts.Continue {
		args = append(args, "--continue")
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.AppendSystemPrompt)
	}
	if len(opts.Agents) > 0 {
		encoded, err := json.Marshal(opts.Agents)
		if err != nil {
			return nil, fmt.Errorf("encode agents: %w", err)
		}
		args = append(args, "--agents", string(encoded))
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Query{
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	if opts.CanUseTool != nil {
		relay := newPermissionRelay(ctx, opts.CanUseTool)
		socketPath, stopRelay, err := relay.Start()
		if err != nil {
			cancel()
			return nil, err
		}
		q.cleanup = append(q.cleanup, stopRelay)

		mcpConfigPath, err := writePermissionMCPConfig(socketPath)
		if err != nil {
			q.runCleanup()
			cancel()
			return nil, err
		}
		q.cleanup = append(q.cleanup, func() { os.Remove(mcpConfigPath) })
		args = append(args,
			"--mcp-config", mcpConfigPath,
			"--permission-prompt-tool", "mcp__vibecheck__approve",
		)
	}

	args = append(args, "--", prompt)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		q.runCleanup()
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		q.runCleanup()
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		q.runCleanup()
		cancel()
		return nil, fmt.Errorf("start assistant: %w", err)
	}
	q.cmd = cmd
	if cmd.Process != nil {
		q.pgid, _ = syscall.Getpgid(cmd.Process.Pid)
	}

	go q.stream(stdout, stderr)
	return q, nil
}

// Events returns the event channel. It closes when the query ends.
func (q *Query) Events() <-chan *Event {
	return q.events
}

// Err reports how the query finished. Valid after Events closes.
func (q *Query) Err() error {
	<-q.done
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Interrupt asks the CLI to stop by signalling its process group, escalating
// to SIGKILL after a grace period. The context cancel acts as the fallback
// when no process group is known.
func (q *Query) Interrupt() error {
	pgid := q.pgid
	if pgid == 0 {
		q.cancel()
		return fmt.Errorf("no process group, cancelled context instead")
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		q.cancel()
		return fmt.Errorf("signal assistant: %w", err)
	}
	go func() {
		select {
		case <-q.done:
		case <-time.After(interruptGrace):
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}()
	return nil
}

func (q *Query) stream(stdout, stderr io.ReadCloser) {
	defer close(q.events)
	defer close(q.done)
	defer q.runCleanup()

	// Drain stderr concurrently, keeping a tail for error reporting.
	errTail := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(stderr)
		tail := strings.TrimSpace(string(data))
		if len(tail) > 500 {
			tail = tail[len(tail)-500:]
		}
		errTail <- tail
	}()

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			slog.Debug("skipping unparseable stream line", "error", err)
			continue
		}
		q.events <- ev
	}

	waitErr := q.cmd.Wait()
	tail := <-errTail

	q.mu.Lock()
	defer q.mu.Unlock()
	if scanErr := scanner.Err(); scanErr != nil && waitErr == nil {
		q.err = fmt.Errorf("read assistant output: %w", scanErr)
		return
	}
	if waitErr != nil {
		if tail != "" {
			q.err = fmt.Errorf("assistant exited: %w: %s", waitErr, tail)
		} else {
			q.err = fmt.Errorf("assistant exited: %w", waitErr)
		}
	}
}

func (q *Query) runCleanup() {
	for i := len(q.cleanup) - 1; i >= 0; i-- {
		q.cleanup[i]()
	}
	q.cleanup = nil
}
