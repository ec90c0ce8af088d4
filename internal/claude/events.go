// internal/claude/events.go
package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a single stream-json line emitted by the assistant CLI. The
// populated fields depend on Type:
//
//	"system"       Subtype ("init"), SessionID
//	"stream_event" Event (raw streaming delta), SessionID
//	"assistant"    Message (may contain tool_use blocks)
//	"user"         Message (tool_result blocks)
//	"result"       Subtype, Result, TotalCostUSD, NumTurns, Usage, Errors
type Event struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Event   *StreamEvent `json:"event,omitempty"`
	Message *MessageBody `json:"message,omitempty"`

	Result       string   `json:"result,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
}

// StreamEvent is the inner Anthropic streaming event carried by a
// stream_event line.
type StreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta *Delta `json:"delta,omitempty"`
}

// Delta is a streaming content-block delta.
type Delta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageBody holds the content blocks of an assistant or user message.
type MessageBody struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one block of message content: text, tool_use or
// tool_result.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// Usage is the token breakdown from the terminal result event.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// ParseEvent parses one stream-json line.
func ParseEvent(line []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("parse stream event: %w", err)
	}
	return &ev, nil
}

// TextDelta returns the text of a streaming text delta, or "" when this
// event is not one.
func (e *Event) TextDelta() string {
	if e.Type != "stream_event" || e.Event == nil || e.Event.Delta == nil {
		return ""
	}
	if e.Event.Delta.Type != "text_delta" {
		return ""
	}
	return e.Event.Delta.Text
}

// ToolUses returns the tool_use blocks of an assistant message.
func (e *Event) ToolUses() []ContentBlock {
	if e.Type != "assistant" || e.Message == nil {
		return nil
	}
	var uses []ContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_use" {
			uses = append(uses, block)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks of a user message.
func (e *Event) ToolResults() []ContentBlock {
	if e.Type != "user" || e.Message == nil {
		return nil
	}
	var results []ContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_result" {
			results = append(results, block)
		}
	}
	return results
}

// ErrorText joins the reported error list, falling back to the result text.
func (e *Event) ErrorText() string {
	if len(e.Errors) > 0 {
		return strings.Join(e.Errors, "; ")
	}
	if e.Result != "" {
		return e.Result
	}
	return e.Subtype
}
