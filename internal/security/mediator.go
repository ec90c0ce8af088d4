// internal/security/mediator.go
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/NestozAI/VibeCheck/internal/protocol"
)

// Sender delivers an outbound protocol message to the UI (best effort).
type Sender func(protocol.Message)

type decision struct {
	approved bool
	message  string
}

type pendingApproval struct {
	tool  string
	input json.RawMessage
	done  chan decision
}

// Mediator gates every tool invocation on the trusted-path set, falling back
// to a synchronous approval round-trip with the UI. The wire protocol has no
// approval correlation id, so safety depends on the caller's single-flight
// discipline: at most one approval is in flight at a time.
type Mediator struct {
	trusted *TrustedPathSet
	send    Sender

	mu      sync.Mutex
	pending *pendingApproval
}

// NewMediator creates a Mediator whose trusted set is seeded with workDir.
func NewMediator(workDir string, send Sender) *Mediator {
	return &Mediator{
		trusted: NewTrustedPathSet(workDir),
		send:    send,
	}
}

// Trusted exposes the trusted-path set for the add_trusted_path handler.
func (m *Mediator) Trusted() *TrustedPathSet {
	return m.trusted
}

// CanUseTool decides whether the assistant may run the tool. Calls touching
// only trusted paths (or safe read-only Bash commands) are allowed
// immediately; anything else parks the caller on an approval round-trip. The
// context aborting resolves the pending approval as a denial.
func (m *Mediator) CanUseTool(ctx context.Context, tool string, input json.RawMessage) (bool, string) {
	paths := PathsForTool(tool, input)

	var untrusted []string
	for _, p := range paths {
		// Relative candidates from Bash text extraction are too weak a
		// signal to gate on; absolute paths carry the decision.
		if !strings.HasPrefix(p, "/") {
			continue
		}
		if !m.trusted.IsTrusted(p) {
			untrusted = append(untrusted, p)
		}
	}
	if len(untrusted) == 0 {
		return true, ""
	}

	if tool == "Bash" {
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &in); err == nil && IsSafeCommand(in.Command) {
			return true, ""
		}
	}

	pending := &pendingApproval{
		tool:  tool,
		input: append(json.RawMessage(nil), input...),
		done:  make(chan decision, 1),
	}

	m.mu.Lock()
	if m.pending != nil {
		// Single-flight should make this unreachable; deny rather than
		// entangle two approvals without a correlation id.
		m.mu.Unlock()
		slog.Warn("approval already pending, denying tool call", "tool", tool)
		return false, "another approval is pending"
	}
	m.pending = pending
	m.mu.Unlock()

	m.send(protocol.ApprovalRequired{
		Paths:   untrusted,
		Message: approvalMessage(tool, input),
	})
	slog.Info("approval required", "tool", tool, "paths", untrusted)

	select {
	case d := <-pending.done:
		return d.approved, d.message
	case <-ctx.Done():
		m.resolve(false, false, "Operation aborted")
		return false, "Operation aborted"
	}
}

// ResolveApproval completes the pending approval. It is idempotent: with no
// approval pending it is a no-op. When approved with permanent, every path
// extracted from the stored tool input joins the trusted set, as extracted.
func (m *Mediator) ResolveApproval(approved, permanent bool) {
	m.resolve(approved, permanent, "User denied permission")
}

func (m *Mediator) resolve(approved, permanent bool, denyMessage string) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if pending == nil {
		return
	}

	if approved && permanent {
		for _, p := range PathsForTool(pending.tool, pending.input) {
			m.trusted.Add(p)
		}
	}

	d := decision{approved: approved}
	if !approved {
		d.message = denyMessage
	}
	pending.done <- d
	slog.Info("approval resolved", "tool", pending.tool, "approved", approved, "permanent", permanent)
}

// HasPending reports whether an approval round-trip is in flight.
func (m *Mediator) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// approvalMessage is "<tool>: <first-200-chars-of-JSON-input>".
func approvalMessage(tool string, input json.RawMessage) string {
	detail := string(input)
	if r := []rune(detail); len(r) > 200 {
		detail = string(r[:200])
	}
	return fmt.Sprintf("%s: %s", tool, detail)
}
