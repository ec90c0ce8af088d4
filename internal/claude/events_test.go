// internal/claude/events_test.go
package claude

import (
	"testing"
)

func TestParseEvent_TextDelta(t *testing.T) {
	line := []byte(`{"type":"stream_event","session_id":"abc","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}}`)
	ev, err := ParseEvent(line)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != "stream_event" || ev.SessionID != "abc" {
		t.Errorf("unexpected envelope: %+v", ev)
	}
	if got := ev.TextDelta(); got != "Hello" {
		t.Errorf("expected text delta Hello, got %q", got)
	}
}

func TestTextDelta_NonTextEvents(t *testing.T) {
	cases := []string{
		`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta"}}}`,
		`{"type":"stream_event","event":{"type":"message_start","index":0}}`,
		`{"type":"system","subtype":"init","session_id":"abc"}`,
	}
	for _, line := range cases {
		ev, err := ParseEvent([]byte(line))
		if err != nil {
			t.Fatal(err)
		}
		if got := ev.TextDelta(); got != "" {
			t.Errorf("expected empty delta for %s, got %q", line, got)
		}
	}
}

func TestParseEvent_Result(t *testing.T) {
	line := []byte(`{"type":"result","subtype":"success","session_id":"abc","result":"done","total_cost_usd":0.0123,"num_turns":3,"usage":{"input_tokens":10,"output_tokens":20,"cache_read_input_tokens":5,"cache_creation_input_tokens":2}}`)
	ev, err := ParseEvent(line)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Subtype != "success" || ev.Result != "done" {
		t.Errorf("unexpected result event: %+v", ev)
	}
	if ev.TotalCostUSD == nil || *ev.TotalCostUSD != 0.0123 {
		t.Errorf("expected cost 0.0123, got %v", ev.TotalCostUSD)
	}
	if ev.NumTurns != 3 {
		t.Errorf("expected 3 turns, got %d", ev.NumTurns)
	}
	if ev.Usage == nil || ev.Usage.InputTokens != 10 || ev.Usage.CacheReadInputTokens != 5 {
		t.Errorf("unexpected usage: %+v", ev.Usage)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"type":`)); err == nil {
		t.Fatal("expected parse error for truncated JSON")
	}
}

func TestToolUses(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Let me check."},{"type":"tool_use","id":"tu1","name":"Read","input":{"file_path":"/work/a.go"}},{"type":"tool_use","id":"tu2","name":"Bash","input":{"command":"ls"}}]}}`)
	ev, err := ParseEvent(line)
	if err != nil {
		t.Fatal(err)
	}
	uses := ev.ToolUses()
	if len(uses) != 2 {
		t.Fatalf("expected 2 tool uses, got %d", len(uses))
	}
	if uses[0].Name != "Read" || uses[0].ID != "tu1" {
		t.Errorf("unexpected first tool use: %+v", uses[0])
	}
	if uses[1].Name != "Bash" {
		t.Errorf("unexpected second tool use: %+v", uses[1])
	}
}

func TestToolUses_WrongEventType(t *testing.T) {
	line := []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_use","id":"tu1","name":"Read"}]}}`)
	ev, err := ParseEvent(line)
	if err != nil {
		t.Fatal(err)
	}
	if uses := ev.ToolUses(); uses != nil {
		t.Errorf("tool uses only come from assistant messages, got %v", uses)
	}
}

func TestToolResults(t *testing.T) {
	line := []byte(`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu1"},{"type":"text","text":"ignored"}]}}`)
	ev, err := ParseEvent(line)
	if err != nil {
		t.Fatal(err)
	}
	results := ev.ToolResults()
	if len(results) != 1 || results[0].ToolUseID != "tu1" {
		t.Errorf("unexpected tool results: %+v", results)
	}
}

func TestErrorText(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "errors list wins",
			ev:   Event{Subtype: "error_during_execution", Result: "fallback", Errors: []string{"a", "b"}},
			want: "a; b",
		},
		{
			name: "result text next",
			ev:   Event{Subtype: "error_during_execution", Result: "something broke"},
			want: "something broke",
		},
		{
			name: "subtype as last resort",
			ev:   Event{Subtype: "error_max_turns"},
			want: "error_max_turns",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.ErrorText(); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
