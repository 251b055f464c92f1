package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func collabInvocation(t *testing.T, control AgentControl, name string, args any) ToolInvocation {
	inv := invocation(t, name, args)
	inv.Session = &fakeSession{control: control}
	return inv
}

func TestWaitTimeoutHasNoSuccessFlag(t *testing.T) {
	control := &fakeControl{statuses: map[string]AgentStatus{"a1": {State: AgentRunning}}}
	zero := int64(0)
	out, err := CollabHandler{}.Handle(context.Background(), collabInvocation(t, control, "wait", WaitArgs{IDs: []string{"a1"}, TimeoutMs: &zero}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Success != nil {
		t.Errorf("a timed out poll carries no success flag, got %v", *out.Success)
	}
	res := decode[map[string]any](t, out.Content)
	if res["timed_out"] != true || res["wakeup_reason"] != "timeout" {
		t.Errorf("result = %v", res)
	}
	if control.waits[0] != 0 {
		t.Errorf("timeout = %v", control.waits[0])
	}
}

func TestWaitCompleted(t *testing.T) {
	control := &fakeControl{statuses: map[string]AgentStatus{
		"a1": {State: AgentCompleted, Message: "done"},
		"a2": {State: AgentRunning},
	}}
	out, err := CollabHandler{}.Handle(context.Background(), collabInvocation(t, control, "wait", WaitArgs{IDs: []string{"a1", "a2"}}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Success == nil || !*out.Success {
		t.Errorf("success = %v", out.Success)
	}
	want := `{"status":{"a1":{"completed":"done"},"a2":"running"},"timed_out":false,"wakeup_reason":"completed"}`
	if out.Content != want {
		t.Errorf("content = %s", out.Content)
	}
	if control.waits[0] != DefaultWaitTimeout {
		t.Errorf("default timeout = %v", control.waits[0])
	}
}

func TestClampWait(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{-time.Second, 0},
		{time.Second, time.Second},
		{time.Hour, MaxWaitTimeout},
	}
	for _, tt := range tests {
		if got := clampWait(tt.in); got != tt.want {
			t.Errorf("clampWait(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAgentStatusJSON(t *testing.T) {
	tests := []struct {
		status AgentStatus
		want   string
	}{
		{AgentStatus{State: AgentPendingInit}, `"pending_init"`},
		{AgentStatus{State: AgentShutdown}, `"shutdown"`},
		{AgentStatus{State: AgentCompleted}, `{"completed":null}`},
		{AgentStatus{State: AgentCompleted, Message: "ok"}, `{"completed":"ok"}`},
		{AgentStatus{State: AgentErrored, Message: "bad"}, `{"errored":"bad"}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.status)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("%v: %s, want %s", tt.status.State, data, tt.want)
		}
	}
}

func TestCollabSpawnSendClose(t *testing.T) {
	control := &fakeControl{statuses: map[string]AgentStatus{"agent-1": {State: AgentCompleted, Message: "bye"}}}

	out, err := CollabHandler{}.Handle(context.Background(), collabInvocation(t, control, "spawn_agent", map[string]any{
		"items": []map[string]string{{"type": "text", "text": "look around"}},
		"label": "scout",
	}))
	if err != nil || out.Content != `{"agent_id":"agent-1"}` {
		t.Fatalf("spawn: %+v %v", out, err)
	}
	if req := control.spawned[0]; req.Label != "scout" || req.Items[0].Text != "look around" {
		t.Errorf("spawn request = %+v", req)
	}

	_, err = CollabHandler{}.Handle(context.Background(), collabInvocation(t, control, "send_input", SendInputArgs{ID: "ghost", Message: "hi"}))
	if err == nil {
		t.Error("send_input to an unknown agent should fail")
	} else if msg, _ := ModelMessage(err); msg != "agent ghost not found" {
		t.Errorf("send_input error = %q", msg)
	}

	out, err = CollabHandler{}.Handle(context.Background(), collabInvocation(t, control, "close_agent", CloseAgentArgs{ID: "agent-1"}))
	if err != nil || out.Content != `{"status":{"completed":"bye"}}` {
		t.Fatalf("close: %+v %v", out, err)
	}
}

func TestCollabValidation(t *testing.T) {
	control := &fakeControl{}
	tests := []struct {
		name string
		args any
		want string
	}{
		{"spawn_agent", SpawnAgentArgs{}, "items must contain at least one entry"},
		{"send_input", SendInputArgs{ID: "a", Message: "  "}, "message must not be empty"},
		{"wait", WaitArgs{}, "ids must contain at least one agent id"},
	}
	for _, tt := range tests {
		_, err := CollabHandler{}.Handle(context.Background(), collabInvocation(t, control, tt.name, tt.args))
		if msg, ok := ModelMessage(err); !ok || msg != tt.want {
			t.Errorf("%s: got %v, want %q", tt.name, err, tt.want)
		}
	}

	_, err := CollabHandler{}.Handle(context.Background(), collabInvocation(t, nil, "wait", WaitArgs{IDs: []string{"a"}}))
	if msg, _ := ModelMessage(err); msg != "sub-agent collaboration is not available in this session" {
		t.Errorf("no control: %v", err)
	}
}
