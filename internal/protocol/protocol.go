// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/NestozAI/VibeCheck/internal/state"
)

// Message is a tagged-union wire message. Each concrete type reports its
// discriminator through Type; the discriminator is injected on encode and
// stripped on decode so payload structs stay plain.
type Message interface {
	Type() string
}

// Usage is the four-field token breakdown reported by the assistant's
// terminal result event.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
}

// ImageData carries one base64-encoded image attachment.
type ImageData struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// SkillInfo is the UI-facing projection of a skill preset.
type SkillInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// AgentDef describes a custom sub-agent passed through to the assistant.
type AgentDef struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// --- agent -> server ---

type Ping struct{}

func (Ping) Type() string { return "ping" }

type Pong struct{}

func (Pong) Type() string { return "pong" }

type Response struct {
	Result   string      `json:"result"`
	Images   []ImageData `json:"images,omitempty"`
	CostUSD  *float64    `json:"cost_usd,omitempty"`
	NumTurns *int        `json:"num_turns,omitempty"`
	Usage    *Usage      `json:"usage,omitempty"`
}

func (Response) Type() string { return "response" }

type StreamingChunk struct {
	Delta string `json:"delta"`
	Index int    `json:"index"`
}

func (StreamingChunk) Type() string { return "streaming_chunk" }

type ToolStatus struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
}

func (ToolStatus) Type() string { return "tool_status" }

type ApprovalRequired struct {
	Paths   []string `json:"paths"`
	Message string   `json:"message"`
}

func (ApprovalRequired) Type() string { return "approval_required" }

type SessionSync struct {
	WorkDir   string  `json:"work_dir"`
	SessionID *string `json:"session_id"`
}

func (SessionSync) Type() string { return "session_sync" }

type SessionUpdate struct {
	WorkDir   string `json:"work_dir"`
	SessionID string `json:"session_id"`
}

func (SessionUpdate) Type() string { return "session_update" }

type SkillListResponse struct {
	Skills []SkillInfo `json:"skills"`
}

func (SkillListResponse) Type() string { return "skill_list_response" }

type ScheduleListResponse struct {
	Tasks []*state.ScheduledTask `json:"tasks"`
}

func (ScheduleListResponse) Type() string { return "schedule_list_response" }

type ScheduleAddResponse struct {
	Success bool                 `json:"success"`
	Task    *state.ScheduledTask `json:"task,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func (ScheduleAddResponse) Type() string { return "schedule_add_response" }

// --- server -> agent ---

type Query struct {
	Message      string              `json:"message"`
	Model        string              `json:"model,omitempty"`
	SkillID      string              `json:"skill_id,omitempty"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	Agents       map[string]AgentDef `json:"agents,omitempty"`
}

func (Query) Type() string { return "query" }

type Approval struct {
	Approved  bool `json:"approved"`
	Permanent bool `json:"permanent,omitempty"`
}

func (Approval) Type() string { return "approval" }

type AddTrustedPath struct {
	Path string `json:"path"`
}

func (AddTrustedPath) Type() string { return "add_trusted_path" }

type Interrupt struct{}

func (Interrupt) Type() string { return "interrupt" }

type SessionInfo struct {
	SessionID *string `json:"session_id"`
	Source    string  `json:"source"`
}

func (SessionInfo) Type() string { return "session_info" }

type SkillList struct{}

func (SkillList) Type() string { return "skill_list" }

type ScheduleAdd struct {
	Cron    string `json:"cron"`
	Message string `json:"message"`
	SkillID string `json:"skill_id,omitempty"`
}

func (ScheduleAdd) Type() string { return "schedule_add" }

type ScheduleRemove struct {
	ID string `json:"id"`
}

func (ScheduleRemove) Type() string { return "schedule_remove" }

type ScheduleToggle struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (ScheduleToggle) Type() string { return "schedule_toggle" }

type ScheduleList struct{}

func (ScheduleList) Type() string { return "schedule_list" }

type ErrorMessage struct {
	Message string `json:"message"`
}

func (ErrorMessage) Type() string { return "error" }

// Encode marshals m with its type discriminator injected. Optional fields
// use omitempty / pointer types so absent values never appear as null.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("reshape %s: %w", m.Type(), err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	typ, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses an inbound frame. It returns the discriminator and the typed
// message; unknown types return a nil Message with no error so the caller
// can ignore them (forward compatibility).
func Decode(data []byte) (string, Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}

	var msg Message
	switch envelope.Type {
	case "query":
		msg = &Query{}
	case "approval":
		msg = &Approval{}
	case "add_trusted_path":
		msg = &AddTrustedPath{}
	case "interrupt":
		msg = &Interrupt{}
	case "ping":
		msg = &Ping{}
	case "pong":
		msg = &Pong{}
	case "session_info":
		msg = &SessionInfo{}
	case "skill_list":
		msg = &SkillList{}
	case "schedule_add":
		msg = &ScheduleAdd{}
	case "schedule_remove":
		msg = &ScheduleRemove{}
	case "schedule_toggle":
		msg = &ScheduleToggle{}
	case "schedule_list":
		msg = &ScheduleList{}
	case "error":
		msg = &ErrorMessage{}
	default:
		return envelope.Type, nil, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return envelope.Type, nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return envelope.Type, msg, nil
}
