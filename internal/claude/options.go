// internal/claude/options.go
package claude

import (
	"context"
	"encoding/json"
)

// PermissionFunc decides whether the assistant may invoke a tool. Returning
// false with a message denies the call. The context aborts when the query is
// interrupted.
type PermissionFunc func(ctx context.Context, tool string, input json.RawMessage) (bool, string)

// AgentDef describes a custom sub-agent passed through to the assistant CLI.
type AgentDef struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// Options assembles one assistant query. Zero values mean "not set".
type Options struct {
	// WorkDir is the directory the assistant operates within.
	WorkDir string

	// Model overrides the CLI default model when non-empty.
	Model string

	// AllowedTools restricts the assistant's tool set.
	AllowedTools []string

	// AppendSystemPrompt is attached to the CLI's preset system prompt.
	AppendSystemPrompt string

	// Resume requests explicit resumption of the given session id.
	Resume string

	// Continue requests "continue most recent conversation". Ignored when
	// Resume is set.
	Continue bool

	// Agents are custom sub-agent definitions, keyed by name.
	Agents map[string]AgentDef

	// CanUseTool gates tool invocations. When nil the CLI's own permission
	// prompting is left in place (not used by the agent).
	CanUseTool PermissionFunc

	// BinaryPath is the assistant CLI binary, default "claude".
	BinaryPath string
}
