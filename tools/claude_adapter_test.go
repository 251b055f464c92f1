package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func asJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestClaudeMappings(t *testing.T) {
	turn := TurnInfo{}
	block := false
	timeout := int64(5000)
	three := 3

	tests := []struct {
		name string
		got  func() (map[string]any, error)
		want string
	}{
		{
			name: "task with supported type and label",
			got: func() (map[string]any, error) {
				return mapTask(turn, TaskArgs{Description: "Investigate failing test", Prompt: "Check latest regression", SubagentType: "explorer", Model: "gpt-5-codex"})
			},
			want: `{"agent_type":"explorer","items":[{"text":"Check latest regression","type":"text"}],"label":"Investigate failing test","model":"gpt-5-codex"}`,
		},
		{
			name: "task drops unknown agent type",
			got: func() (map[string]any, error) {
				return mapTask(turn, TaskArgs{Prompt: "go", SubagentType: "general-purpose", Name: "n"})
			},
			want: `{"items":[{"text":"go","type":"text"}],"label":"n"}`,
		},
		{
			name: "non-blocking output polls with zero timeout",
			got: func() (map[string]any, error) {
				return mapTaskOutput(turn, TaskOutputArgs{TaskID: "agent-1", Block: &block, Timeout: &timeout})
			},
			want: `{"ids":["agent-1"],"timeout_ms":0}`,
		},
		{
			name: "blocking output keeps timeout",
			got: func() (map[string]any, error) {
				return mapTaskOutput(turn, TaskOutputArgs{TaskID: "agent-1", Timeout: &timeout})
			},
			want: `{"ids":["agent-1"],"timeout_ms":5000}`,
		},
		{
			name: "stop falls back to shell id",
			got:  func() (map[string]any, error) { return mapTaskStop(turn, TaskStopArgs{ShellID: "agent-2"}) },
			want: `{"id":"agent-2"}`,
		},
		{
			name: "tool search max results becomes limit",
			got: func() (map[string]any, error) {
				return mapToolSearch(turn, ToolSearchArgs{Query: "slack send", MaxResults: &three})
			},
			want: `{"limit":3,"query":"slack send"}`,
		},
		{
			name: "skill becomes a skill item",
			got:  func() (map[string]any, error) { return mapSkill(turn, SkillArgs{Skill: "review-pr", Args: "123"}) },
			want: `{"items":[{"name":"review-pr","path":"skill://review-pr","type":"skill"},{"text":"123","type":"text"}],"label":"skill:review-pr"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := tt.got()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := asJSON(t, payload); got != tt.want {
				t.Errorf("payload = %s\nwant      %s", got, tt.want)
			}
		})
	}
}

func TestClaudeMappingErrors(t *testing.T) {
	turn := TurnInfo{}
	negative := int64(-1)
	zero := 0
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing prompt", second(mapTask(turn, TaskArgs{Prompt: "  "})), "prompt must not be empty"},
		{"missing task id", second(mapTaskOutput(turn, TaskOutputArgs{})), "task_id must not be empty"},
		{"negative timeout", second(mapTaskOutput(turn, TaskOutputArgs{TaskID: "a", Timeout: &negative})), "timeout must be greater than or equal to zero"},
		{"missing stop id", second(mapTaskStop(turn, TaskStopArgs{})), "task_id or shell_id must not be empty"},
		{"zero max results", second(mapToolSearch(turn, ToolSearchArgs{Query: "list", MaxResults: &zero})), "max_results must be greater than zero"},
		{"missing skill", second(mapSkill(turn, SkillArgs{})), "skill must not be empty"},
	}
	for _, tt := range tests {
		if msg, ok := ModelMessage(tt.err); !ok || msg != tt.want {
			t.Errorf("%s: got %v, want %q", tt.name, tt.err, tt.want)
		}
	}
}

func second(_ map[string]any, err error) error { return err }

func TestClaudeAdapterDispatchesCanonicalTool(t *testing.T) {
	rt, err := NewDefaultRouter(DefaultRouterConfig())
	if err != nil {
		t.Fatal(err)
	}
	control := &fakeControl{statuses: map[string]AgentStatus{"agent-1": {State: AgentRunning}}}
	inv := collabInvocation(t, control, ClaudeTaskOutput, map[string]any{"task_id": "agent-1", "block": false, "timeout": 5000})

	start := time.Now()
	out, err := rt.Registry().Dispatch(context.Background(), inv)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("non-blocking TaskOutput should return immediately")
	}
	if out.Success != nil {
		t.Errorf("non-blocking poll carries no success flag")
	}
	res := decode[map[string]any](t, out.Content)
	if res["timed_out"] != true || res["wakeup_reason"] != "timeout" {
		t.Errorf("result = %v", res)
	}
	if !reflect.DeepEqual(control.waits, []time.Duration{0}) {
		t.Errorf("waits = %v", control.waits)
	}

	inv = collabInvocation(t, control, ClaudeSkill, SkillArgs{Skill: "review-pr"})
	if _, err := rt.Registry().Dispatch(context.Background(), inv); err != nil {
		t.Fatalf("Skill: %v", err)
	}
	req := control.spawned[0]
	if req.Label != "skill:review-pr" || req.Items[0].Type != "skill" || req.Items[0].Path != "skill://review-pr" {
		t.Errorf("spawn request = %+v", req)
	}
}

func TestClaudeAdapterUnsupportedAlias(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(ToolSpec{Name: "Bash"}, ClaudeAdapter{Registry: reg})
	_, err := reg.Dispatch(context.Background(), ToolInvocation{ToolName: "Bash", Payload: FunctionPayload("{}")})
	if msg, ok := ModelMessage(err); !ok || msg != "unsupported Claude tool alias Bash" {
		t.Errorf("got %v", err)
	}
}
